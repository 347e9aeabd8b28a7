package router

import "fmt"

const requestBuffer = 64

// ChanHandler hands requests to whichever local service consumes Requests.
// Handle never blocks; a full buffer rejects the request.
type ChanHandler struct {
	requests chan Request
}

func NewChanHandler() *ChanHandler {
	return &ChanHandler{requests: make(chan Request, requestBuffer)}
}

func (c *ChanHandler) Requests() <-chan Request {
	return c.requests
}

func (c *ChanHandler) Handle(req Request) error {
	select {
	case c.requests <- req:
		return nil
	default:
		return fmt.Errorf("local handler busy, dropped request for %s", req.Route.Handler)
	}
}
