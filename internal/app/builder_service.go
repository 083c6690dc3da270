package app

import (
	"fmt"

	"phinance/internal/config"
	"phinance/internal/logger"
	livehttp "phinance/internal/transport/http/live"
)

func buildLiveHTTPServer(cfg config.AppConfig, services livehttp.ServerConfig) (*livehttp.Server, error) {
	services.Addr = cfg.HTTPAddr
	server, err := livehttp.NewServer(services)
	if err != nil {
		return nil, fmt.Errorf("init live HTTP failed: %w", err)
	}
	logger.Infof("✓ Live HTTP listening on %s", server.Addr())
	return server, nil
}
