// Package flags holds the cli flags and setup helpers shared by the
// keywarden commands.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/keywarden/keywarden/common"
	"github.com/keywarden/keywarden/httpserver"
	"github.com/urfave/cli/v2"
)

// SetupLogger builds a logger from the shared logging flags.
func SetupLogger(cCtx *cli.Context) *slog.Logger {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJSONFlag.Name),
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if cCtx.Bool(LogUIDFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ConfigureServer builds the HTTP server config from the shared server flags.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CooperatorURLFlag = &cli.StringFlag{
	Name:  "cooperator-url",
	Value: "http://127.0.0.1:8080",
	Usage: "base URL of the cooperator lock API",
}

var StorageURIFlag = &cli.StringFlag{
	Name:  "storage-uri",
	Value: "file:///var/lib/keywarden",
	Usage: "account record store URI (file://, vault://, s3://)",
}

var RPCAddrFlag = &cli.StringFlag{
	Name:  "rpc-addr",
	Usage: "Ethereum RPC address used for challenge freshness; a static block reference is used when empty",
}

var RPIDFlag = &cli.StringFlag{
	Name:  "rp-id",
	Value: "keywarden.local",
	Usage: "relying-party identifier bound into every challenge",
}

var ModulusBitsFlag = &cli.IntFlag{
	Name:  "modulus-bits",
	Value: 2048,
	Usage: "bit size of the shared prime modulus",
}

var GraceSizeFlag = &cli.IntFlag{
	Name:  "grace-size",
	Value: 2,
	Usage: "maximum number of retired keypairs kept usable",
}

var GraceDaysFlag = &cli.Int64Flag{
	Name:  "grace-days",
	Value: 30,
	Usage: "days a retired keypair remains usable",
}

var LogJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}

var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}

var LogUIDFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}

var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
