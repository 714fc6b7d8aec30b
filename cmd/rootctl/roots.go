package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"gopherex.com/custody/internal/app"
	walletrepo "gopherex.com/custody/internal/wallet/repo"
	"gopherex.com/custody/internal/wallet/service"
	"gopherex.com/custody/pkg/config"
	"gopherex.com/custody/pkg/orm"
)

func parseAddRoot(args []string) (service.NewRoot, error) {
	fs := flag.NewFlagSet("add-root", flag.ContinueOnError)
	var in service.NewRoot
	fs.StringVar(&in.Chain, "chain", "", "chain")
	fs.StringVar(&in.Network, "network", "mainnet", "network")
	fs.StringVar(&in.XPub, "xpub", "", "account extended public key")
	fs.StringVar(&in.Literal, "literal", "", "literal address (xrp master or legacy root)")
	fs.StringVar(&in.MasterKeyID, "master-key-id", "", "id of the offline master key")
	fs.BoolVar(&in.Auto, "auto", true, "prefer this root for new allocations")
	fs.BoolVar(&in.Legacy, "legacy", false, "cardano only: single-key enterprise addresses instead of base addresses")
	err := fs.Parse(args)
	return in, err
}

func cmdAddRoot(ctx context.Context, args []string, out io.Writer) error {
	in, err := parseAddRoot(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.MySQL.DSN == "" {
		return errors.New("mysql.dsn is not configured")
	}
	db, err := orm.NewMySQL(&cfg.MySQL)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	root, err := service.RegisterRoot(ctx, walletrepo.New(db), in)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "wallet root %d registered for %s/%s\n", root.ID, root.Chain, root.Network)
	return err
}

func loadConfig() (*app.Config, error) {
	var cfg app.Config
	if _, err := config.Load(app.ServiceName, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}
