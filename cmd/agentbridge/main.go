package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"agentbridge/internal/api"
	"agentbridge/internal/asterisk"
	"agentbridge/internal/config"
	"agentbridge/internal/database"
	"agentbridge/internal/logging"
	"agentbridge/internal/metrics"
	"agentbridge/internal/routing"
	"agentbridge/internal/websocket"
)

const defaultConfigPath = "/etc/agentbridge/agentbridge.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		cmdStart()
	case "status":
		cmdStatus()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Comando desconocido: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("AgentBridge - Enrutador de llamadas hacia agentes vía ARI")
	fmt.Println()
	fmt.Println("Uso:")
	fmt.Println("  agentbridge start     Inicia el servicio")
	fmt.Println("  agentbridge status    Muestra cómo verificar el servicio")
	fmt.Println("  agentbridge help      Muestra esta ayuda")
	fmt.Println()
	fmt.Println("La configuración se lee de $AGENTBRIDGE_CONFIG o " + defaultConfigPath)
}

func configPath() string {
	if p := os.Getenv("AGENTBRIDGE_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// cmdStart inicia todos los servicios
func cmdStart() {
	cfg, err := config.Load(configPath())
	if err != nil {
		logrus.Fatalf("Error cargando configuración: %v", err)
	}

	logger := logging.New(cfg.Log)
	defer logger.Close()
	log := logger.Component("main")
	log.Info("AgentBridge iniciando servicios...")

	if err := run(cfg, logger); err != nil {
		log.WithError(err).Error("Servicio detenido con error")
		logger.Close()
		os.Exit(1)
	}
	log.Info("Servicio detenido")
}

func run(cfg *config.Config, logger *logging.Logger) error {
	log := logger.Component("main")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := routing.NewRegistry()

	ari, err := asterisk.Connect(cfg.ARI, logger.Component("ari"))
	if err != nil {
		return err
	}
	defer ari.Close()
	orch := ari.Orchestrator()
	log.Info("✓ Sesión ARI conectada")

	hub := websocket.NewHub(logger.Component("websocket"))
	go hub.Run(ctx)

	collector := metrics.NewCollector(reg, reg, ari, time.Now())
	observers := []routing.Observer{hub, collector}

	if cfg.Database.Enabled {
		conn, err := database.NewConnection(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := database.Migrate(ctx, conn.DB, logger.Component("database")); err != nil {
			return err
		}
		journal := database.NewJournal(database.NewMySQLStore(conn.DB), logger.Component("journal"))
		journal.Start()
		defer journal.Stop()
		observers = append(observers, journal)
		log.Info("✓ Journal de llamadas habilitado")
	}

	dir := routing.NewDirectory(cfg.Routing.AgentEndpoints, cfg.Routing.DefaultEndpoint)
	machine := routing.NewMachine(reg, orch, dir, routing.MachineConfig{
		BridgeType:     cfg.Routing.BridgeType,
		OutboundMarker: cfg.Routing.OutboundMarker,
	}, logger.Component("machine"), observers...)
	hold := routing.NewHoldController(reg, orch, cfg.Routing.HoldDelay(), logger.Component("hold"), observers...)

	go ari.Listen(ctx)
	machineDone := make(chan struct{})
	go func() {
		defer close(machineDone)
		machine.Run(ctx, ari.Events())
	}()

	server := api.NewServer(cfg.API, hold, reg, api.Options{
		Bridges: orch,
		Conn:    ari,
		Holds:   collector,
		Events:  hub,
		Metrics: metrics.Handler(collector),
	}, logger.Component("api"))

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	log.WithFields(logrus.Fields{
		"app":  cfg.ARI.Application,
		"addr": cfg.API.Address(),
	}).Info("Servicio iniciado correctamente")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Deteniendo servicio...")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("servidor HTTP: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.WithError(err).Warn("Error cerrando servidor HTTP")
	}

	stop()
	ari.Close()
	select {
	case <-machineDone:
	case <-shutdownCtx.Done():
		log.Warn("La máquina de estados no terminó a tiempo")
	}
	return runErr
}

func cmdStatus() {
	fmt.Println("AgentBridge Service Status")
	fmt.Println("==========================")
	fmt.Println()
	fmt.Println("Para verificar el estado del servicio:")
	fmt.Println("  systemctl status agentbridge")
	fmt.Println()
	fmt.Println("Para ver logs en tiempo real:")
	fmt.Println("  journalctl -u agentbridge -f")
	fmt.Println()
	fmt.Println("Para verificar API y sesión ARI:")
	fmt.Println("  curl http://localhost:3000/health")
	fmt.Println()
	fmt.Println("Para ver las llamadas activas:")
	fmt.Println("  agentbridge-cli calls")
}
