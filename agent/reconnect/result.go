package reconnect

import "sync"

// Connect test outcomes cached between attempts
const (
	ResultNone           = ""
	ResultIPLocked       = "FusionDirector.1.0.IAMRequestIPLocked"
	ResultInvalidCert    = "invalid fd cert"
	ResultInvalidIPPort  = "invalid fd ip or port"
	ResultNoPrivilege    = "Base.1.0.InsufficientPrivilege"
	ResultAuthFailure    = "FusionDirector.1.0.AuthenticationFailure"
	ResultSpareNodeWrong = "FusionDirector.1.0.SpareNodeIDInCorrect"
	ResultSameDevice     = "EdgeDevMgmt.1.0.TheSameDevice"
	ResultInternalError  = "EdgeDevMgmt.1.0.InternalError"
	ResultNodeIDExist    = "EdgeDevMgmt.1.0.NodeIDExist"
)

type ResultCache struct {
	lock   sync.Mutex
	result string
}

func (c *ResultCache) Set(result string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.result = result
}

func (c *ResultCache) Get() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.result
}

func (c *ResultCache) Clear() {
	c.Set(ResultNone)
}

func (c *ResultCache) AccountInvalid() bool {
	result := c.Get()
	return result == ResultNoPrivilege || result == ResultAuthFailure
}

func (c *ResultCache) IPLocked() bool {
	return c.Get() == ResultIPLocked
}

func (c *ResultCache) CertInvalid() bool {
	return c.Get() == ResultInvalidCert
}

func (c *ResultCache) IPPortInvalid() bool {
	return c.Get() == ResultInvalidIPPort
}

// Negative reports whether the cached outcome forbids further attempts
func (c *ResultCache) Negative() bool {
	return c.AccountInvalid() || c.IPLocked() || c.CertInvalid()
}
