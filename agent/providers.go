package main

import (
	"context"
	"runtime"

	"github.com/Ascend/MEF-sub001/agent/reporter"
	"github.com/Ascend/MEF-sub001/agent/target"
)

// defaultProviders fills the reports from what the agent itself knows. The
// alarm report carries the companion's alarms.
type defaultProviders struct {
	agent *Agent
}

func (p *defaultProviders) SysInfo(ctx context.Context) (any, error) {
	n, err := p.agent.config.Net()
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"product_name":  n.ProductName,
		"serial_number": n.SerialNumber,
		"asset_tag":     n.AssetTag,
		"node_id":       n.NodeID,
		"arch":          runtime.GOARCH,
		"agent_version": getAgentVersion(),
	}, nil
}

func (p *defaultProviders) SysStatus(ctx context.Context) (any, error) {
	return map[string]any{
		"connect_status": p.agent.CurrentStatus().String(),
		"mef_connected":  p.agent.IsReady(target.MEF),
	}, nil
}

func (p *defaultProviders) Alarms(ctx context.Context) (any, error) {
	return map[string]any{"alarm": p.agent.mefRouter.CachedAlarmInfo(ctx, DefaultAlarmTimeout)}, nil
}

// Account knows nothing about the web account, so the password change event is
// never raised; deployments that own the account pass their own Providers.
func (p *defaultProviders) Account(ctx context.Context) (reporter.AccountInfo, error) {
	return reporter.AccountInfo{}, nil
}
