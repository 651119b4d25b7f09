// Package autoload initializes the global logger from the environment via a
// blank import:
//
//	import _ "github.com/tanpawarit/crm-copilot/pkg/logger/autoload"
package autoload

import (
	configx "github.com/tanpawarit/crm-copilot/pkg/config"
	logx "github.com/tanpawarit/crm-copilot/pkg/logger"
)

func init() {
	cfg := configx.MustNew[logx.Config]("LOG")
	logx.Init(*cfg)
}
