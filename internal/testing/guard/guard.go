// Package guard is blank-imported by binary tests so that main returns before it dials
// Postgres or Redis. An explicit ARSTATEMENT_TEST_MODE value is left alone.
package guard

import (
	"os"

	"github.com/odyssey-erp/arstatement/internal/app"
)

func init() {
	if _, set := os.LookupEnv(app.TestModeEnv); !set {
		_ = os.Setenv(app.TestModeEnv, "1")
	}
	app.RefreshTestMode()
}
