package contracts

import (
	"context"

	"github.com/julienschmidt/httprouter"
)

type Handler interface {
	RegisterRoutes(*httprouter.Router)
}

// Worker is a background loop owned by the application. Run blocks until ctx is done
// or Stop is called.
type Worker interface {
	Run(ctx context.Context)
	Stop()
}
