// Command autotls-demo wires the autotls client into a minimal HTTPS server
// that answers every request with a fixed message, provisioning a
// certificate for the configured domains on first connection.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/small-tech/autotls/autotls"
	"github.com/small-tech/autotls/cmd"
	"github.com/small-tech/autotls/config"
)

func main() {
	var (
		domainsFlag = flag.String("domains", "", "comma separated list of domains to serve a certificate for")
		root        = flag.String("root", "./autotls-data", "root directory for persisted account/certificate state")
		contact     = flag.String("contact", "", "contact email address registered with the ACME account")
		staging     = flag.Bool("staging", false, "use the Let's Encrypt staging directory instead of production")
		localTest   = flag.Bool("local-test", false, "use a local ACME test CA at https://localhost:14000/dir")
		caCertPath  = flag.String("ca-cert", "", "PEM file pinning the ACME server's TLS trust root (local-test only)")
	)
	flag.Parse()

	if *domainsFlag == "" {
		cmd.FailOnError(fmt.Errorf("at least one domain is required"), "no -domains given")
	}
	domains := strings.Split(*domainsFlag, ",")

	serverType := config.Production
	switch {
	case *localTest:
		serverType = config.LocalTest
	case *staging:
		serverType = config.Staging
	}

	cfg, err := config.New(serverType, domains, *root)
	cmd.FailOnError(err, "invalid configuration")

	ctx := context.Background()

	var contacts []string
	if *contact != "" {
		contacts = []string{*contact}
	}

	server, err := autotls.New(ctx, autotls.Options{
		Configuration: cfg,
		Contacts:      contacts,
		CACertPath:    *caCertPath,
	})
	cmd.FailOnError(err, "failed to initialize autotls server")

	go func() {
		if err := server.ListenChallengePort(":80"); err != nil {
			cmd.FailOnError(err, "HTTP front door exited")
		}
	}()

	ln, err := net.Listen("tcp", ":443")
	cmd.FailOnError(err, "failed to listen on :443")

	tlsListener, _ := server.CreateServer(ln)

	httpServer := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "autotls-demo is serving this connection over a provisioned certificate\n")
		}),
	}

	go cmd.CatchSignals(func() {
		server.Shutdown()
	})

	if err := httpServer.Serve(tlsListener); err != nil {
		cmd.FailOnError(err, "HTTPS server exited")
	}
}
