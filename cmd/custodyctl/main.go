// The custodyctl command drives the custody engine from the command line:
// it registers accounts, runs the cold unlock path and produces signatures
// against a remote cooperator.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/keywarden/keywarden/api/lockhandler"
	"github.com/keywarden/keywarden/challenge"
	"github.com/keywarden/keywarden/cmd/flags"
	"github.com/keywarden/keywarden/custody"
	"github.com/keywarden/keywarden/interfaces"
	"github.com/keywarden/keywarden/session"
	"github.com/keywarden/keywarden/storage"
	"github.com/urfave/cli/v2"
)

var accountFlag = &cli.StringFlag{
	Name:     "account",
	Required: true,
	Usage:    "account identifier",
}

var passphraseFlag = &cli.StringFlag{
	Name:    "passphrase",
	EnvVars: []string{"KEYWARDEN_PASSPHRASE"},
	Usage:   "passphrase standing in for the authentication ceremony",
}

var sessionFlag = &cli.StringFlag{
	Name:  "session",
	Usage: "session identifier; a random one is generated when empty",
}

var recoverySharesFlag = &cli.IntFlag{
	Name:  "recovery-shares",
	Usage: "number of recovery shares to print at registration (0 disables)",
}

var recoveryThresholdFlag = &cli.IntFlag{
	Name:  "recovery-threshold",
	Value: 2,
	Usage: "shares required to reconstruct the recovery secret",
}

var commonFlags = []cli.Flag{
	flags.CooperatorURLFlag,
	flags.StorageURIFlag,
	flags.RPCAddrFlag,
	flags.RPIDFlag,
	flags.LogJSONFlag,
	flags.LogDebugFlag,
	flags.LogUIDFlag,
	flags.LogServiceFlag,
}

// passphraseOracle derives stable ceremony secrets from a passphrase. It
// stands in for a real user-interactive ceremony when driving the engine
// from the command line.
type passphraseOracle struct {
	passphrase string
}

func (o *passphraseOracle) Authenticate(ctx context.Context, chal []byte) (interfaces.CeremonyResult, error) {
	if o.passphrase == "" {
		return interfaces.CeremonyResult{}, fmt.Errorf("no passphrase provided")
	}

	primary := sha256.Sum256(append([]byte("keywarden/ceremony/primary/"), o.passphrase...))
	secondary := sha256.Sum256(append([]byte("keywarden/ceremony/secondary/"), o.passphrase...))

	return interfaces.CeremonyResult{
		PresenceConfirmed: true,
		PrimarySecret:     primary[:],
		SecondarySecret:   secondary[:],
	}, nil
}

func buildService(cCtx *cli.Context, logger *slog.Logger) (*custody.Service, error) {
	store, err := storage.NewFactory(logger).StoreFor(interfaces.StorageLocation(cCtx.String(flags.StorageURIFlag.Name)))
	if err != nil {
		return nil, err
	}

	var source interfaces.BlockSource
	if rpcAddr := cCtx.String(flags.RPCAddrFlag.Name); rpcAddr != "" {
		source, err = challenge.NewEthBlockSource(rpcAddr)
		if err != nil {
			return nil, err
		}
	} else {
		source = &challenge.StaticBlockSource{Block: interfaces.BlockRef{Height: 1}}
	}

	cfg := custody.DefaultConfig(cCtx.String(flags.RPIDFlag.Name))
	cfg.RecoveryShares = cCtx.Int(recoverySharesFlag.Name)
	cfg.RecoveryThreshold = cCtx.Int(recoveryThresholdFlag.Name)

	locks := lockhandler.NewClient(cCtx.String(flags.CooperatorURLFlag.Name))
	oracle := &passphraseOracle{passphrase: cCtx.String(passphraseFlag.Name)}
	progress := func(stage string) {
		fmt.Fprintf(os.Stderr, "progress: %s\n", stage)
	}

	return custody.New(cfg, store, locks, session.NewStore(logger), oracle, source, progress, logger)
}

func sessionID(cCtx *cli.Context) interfaces.SessionID {
	if s := cCtx.String(sessionFlag.Name); s != "" {
		return interfaces.SessionID(s)
	}
	return interfaces.SessionID(uuid.Must(uuid.NewRandom()).String())
}

func main() {
	app := &cli.App{
		Name:  "custodyctl",
		Usage: "Drive the key custody engine",
		Commands: []*cli.Command{
			{
				Name:  "register",
				Usage: "enroll an account and print its signing public key",
				Flags: append([]cli.Flag{accountFlag, passphraseFlag, recoverySharesFlag, recoveryThresholdFlag}, commonFlags...),
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					svc, err := buildService(cCtx, logger)
					if err != nil {
						return err
					}

					pub, priv, err := ed25519.GenerateKey(rand.Reader)
					if err != nil {
						return err
					}

					ctx, cancel := context.WithTimeout(cCtx.Context, 5*time.Minute)
					defer cancel()

					kit, err := svc.Register(ctx, interfaces.AccountID(cCtx.String(accountFlag.Name)), priv)
					if err != nil {
						return err
					}

					fmt.Printf("public key: %s\n", hex.EncodeToString(pub))
					if kit != nil {
						fmt.Printf("recovery shares (%d required):\n", kit.Threshold)
						for i, share := range kit.Shares {
							fmt.Printf("  %d: %s\n", i+1, hex.EncodeToString(share))
						}
					}
					return nil
				},
			},
			{
				Name:  "unlock",
				Usage: "run the cold path and mint a session capability",
				Flags: append([]cli.Flag{accountFlag, passphraseFlag, sessionFlag}, commonFlags...),
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					svc, err := buildService(cCtx, logger)
					if err != nil {
						return err
					}

					ctx, cancel := context.WithTimeout(cCtx.Context, 5*time.Minute)
					defer cancel()

					id := sessionID(cCtx)
					if err := svc.Unlock(ctx, interfaces.AccountID(cCtx.String(accountFlag.Name)), id); err != nil {
						return err
					}

					fmt.Printf("session: %s\n", id)
					return nil
				},
			},
			{
				Name:      "sign",
				Usage:     "sign a payload through the custody engine",
				ArgsUsage: "<payload>",
				Flags:     append([]cli.Flag{accountFlag, passphraseFlag, sessionFlag}, commonFlags...),
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return fmt.Errorf("expected exactly one payload argument")
					}

					logger := flags.SetupLogger(cCtx)
					svc, err := buildService(cCtx, logger)
					if err != nil {
						return err
					}

					ctx, cancel := context.WithTimeout(cCtx.Context, 5*time.Minute)
					defer cancel()

					sig, err := svc.Sign(ctx, interfaces.AccountID(cCtx.String(accountFlag.Name)), sessionID(cCtx), []byte(cCtx.Args().First()))
					if err != nil {
						return err
					}

					fmt.Printf("signature: %s\n", hex.EncodeToString(sig))
					return nil
				},
			},
			{
				Name:  "key-info",
				Usage: "print the cooperator's current keyring",
				Flags: commonFlags,
				Action: func(cCtx *cli.Context) error {
					client := lockhandler.NewClient(cCtx.String(flags.CooperatorURLFlag.Name))

					ctx, cancel := context.WithTimeout(cCtx.Context, 30*time.Second)
					defer cancel()

					info, err := client.KeyInfo(ctx)
					if err != nil {
						return err
					}

					fmt.Printf("current key: %s\n", info.CurrentKeyID)
					fmt.Printf("modulus bits: %d\n", len(info.Modulus)*8)
					for _, id := range info.GraceKeyIDs {
						fmt.Printf("grace key: %s\n", id)
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
