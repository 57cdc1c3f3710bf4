package main

import (
	"github.com/kardianos/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// System service management via kardianos/service. Installing writes a
// unit that runs the plain daemon command; at runtime shutdown arrives
// as SIGTERM, which the governor's signal handler turns into a clean
// stop, so the program hooks below stay minimal.

var serviceCmd = &cobra.Command{
	Use:       "service [install|uninstall|start|stop|restart]",
	Short:     "Manage whoisit as a system service",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"install", "uninstall", "start", "stop", "restart"},
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd)
		if err != nil {
			return err
		}
		return service.Control(svc, args[0])
	},
}

func newService(cmd *cobra.Command) (service.Service, error) {
	var args []string
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	svcConfig := &service.Config{
		Name:        "whoisit",
		DisplayName: "whoisit ident daemon",
		Description: "RFC 1413 ident responder",
		Arguments:   args,
	}
	return service.New(&program{cmd: cmd}, svcConfig)
}

type program struct {
	cmd *cobra.Command
}

func (p *program) Start(s service.Service) error {
	go func() {
		if err := runDaemon(p.cmd); err != nil {
			logrus.WithError(err).Error("daemon exited")
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	return nil
}
