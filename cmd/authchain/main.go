// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ferrymq/authchain"
	"github.com/ferrymq/authchain/config"
)

func main() {
	configFile := flag.String("config", "authchain.yaml", "path of the provider configuration file")
	username := flag.String("username", "", "check credentials for this username and exit")
	password := flag.String("password", "", "password used with -username")
	clientID := flag.String("client", "cli", "client id used for one-shot checks")
	topic := flag.String("topic", "", "check topic access for -client and exit")
	write := flag.Bool("write", false, "check write access instead of read access with -topic")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	data, err := os.ReadFile(*configFile)
	if err != nil {
		log.Error("failed to read config file", "error", err)
		os.Exit(1)
	}

	lcs, err := config.FromBytes(data)
	if err != nil {
		log.Error("failed to parse config file", "error", err)
		os.Exit(1)
	}

	chain := config.NewChain(log, lcs)
	err = chain.Start()
	if err != nil {
		log.Error("failed to start chain", "error", err)
		os.Exit(1)
	}

	cl := &authchain.Client{
		ID:       *clientID,
		Username: []byte(*username),
		Remote:   "local",
		Listener: "cli",
	}

	if *username != "" || *topic != "" {
		ok := oneShot(log, chain, cl, *username, *password, *topic, *write)
		chain.Stop()
		if !ok {
			os.Exit(1)
		}
		return
	}

	sigs := make(chan os.Signal, 1)
	done := make(chan bool, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		done <- true
	}()

	log.Info("chain started", "providers", chain.Len())

	<-done
	log.Warn("caught signal, stopping...")
	chain.Stop()
	log.Info("main.go finished")
}

// oneShot evaluates a single credential or acl check and prints the outcome.
// It returns false if any requested check was denied.
func oneShot(log *slog.Logger, chain *authchain.Chain, cl *authchain.Client, username, password, topic string, write bool) bool {
	allowed := true

	if username != "" {
		ok := chain.Authenticate(cl, []byte(username), []byte(password))
		log.Info("credential check", "username", username, "allowed", ok)
		allowed = allowed && ok
	}

	if topic != "" {
		acc := authchain.Read
		if write {
			acc = authchain.Write
		}
		ok := chain.ACLCheck(cl, acc, &authchain.Message{Topic: topic})
		log.Info("acl check", "topic", topic, "access", acc.String(), "allowed", ok)
		allowed = allowed && ok
	}

	return allowed
}
