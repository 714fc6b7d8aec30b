// rootctl 钱包根运维工具：离线生成助记词/导出账户 xpub，录入钱包根，查看线上实例
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"gopherex.com/custody/pkg/config"
	"gopherex.com/custody/pkg/logger"
)

const usage = `usage: rootctl <command> [flags]

commands:
  mnemonic    generate a 24-word mnemonic (run offline)
  xpub        export the BIP44 account xpub for evm/bitcoin/tron, mnemonic from $ROOTCTL_MNEMONIC (optional $ROOTCTL_PASSPHRASE)
  add-root    register a wallet root (xpub or literal address) in mysql, -legacy for cardano enterprise roots
  instances   list custody-service instances registered in etcd
  health      grpc health check against one instance or the etcd-resolved service
  balances    list a user's balances over grpc
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}
	logger.Init("rootctl", "warn")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "rootctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "mnemonic":
		return cmdMnemonic(out)
	case "xpub":
		return cmdXPub(args, out)
	case "add-root":
		return cmdAddRoot(ctx, args, out)
	case "instances":
		return cmdInstances(ctx, args, out)
	case "health":
		return cmdHealth(ctx, args, out)
	case "balances":
		return cmdBalances(ctx, args, out)
	case "help", "-h", "--help":
		_, err := fmt.Fprint(out, usage)
		return err
	}
	return fmt.Errorf("unknown command %q", cmd)
}
