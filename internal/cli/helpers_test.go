package cli

import "github.com/soyeahso/supportsync/internal/logging"

func testLogger() *logging.Logger { return logging.New(nil, "silent") }
