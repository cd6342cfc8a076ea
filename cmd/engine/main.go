package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/mdns/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/cache"
	"github.com/IvanSnezhok/ecoflow-dashboard/internal/config"
	"github.com/IvanSnezhok/ecoflow-dashboard/internal/ecoflow"
	"github.com/IvanSnezhok/ecoflow-dashboard/internal/engine"
	"github.com/IvanSnezhok/ecoflow-dashboard/internal/ingest"
	"github.com/IvanSnezhok/ecoflow-dashboard/internal/logging"
	"github.com/IvanSnezhok/ecoflow-dashboard/internal/notify"
	"github.com/IvanSnezhok/ecoflow-dashboard/internal/store"
	"github.com/IvanSnezhok/ecoflow-dashboard/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogDir); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatalf("Invalid timezone %q: %v", cfg.Timezone, err)
	}

	st, err := store.New(context.Background(), cfg.DBURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer st.Close()

	stateCache := cache.New(cfg.RedisAddr)
	defer stateCache.Close()

	vendor := ecoflow.NewClient(cfg.EcoflowAPIURL, cfg.EcoflowAccessKey, cfg.EcoflowSecretKey)
	notifier := notify.NewWebhook(cfg.WebhookURL)

	executor := engine.NewExecutor(vendor, notifier)
	processor := engine.NewProcessor(st, st, executor, location)
	pipeline := ingest.NewPipeline(processor, st, stateCache)

	// Poll pipeline: cron fires per-device poll tasks, asynq workers run
	// them against the vendor API.
	enqueuer := ingest.NewEnqueuer(cfg.RedisAddr)
	defer enqueuer.Close()
	workers := ingest.NewWorkers(cfg.RedisAddr, vendor, pipeline)
	go func() {
		if err := workers.Start(); err != nil {
			log.Fatalf("Failed to start poll workers: %v", err)
		}
	}()

	scheduler := ingest.NewPollScheduler(enqueuer)
	if err := scheduler.SchedulePolls(cfg.DeviceSNs, cfg.PollInterval); err != nil {
		log.Fatalf("Failed to schedule polls: %v", err)
	}
	scheduler.Start()

	// Push pipeline: vendor MQTT quota stream, when a broker is configured.
	var subscriber *ingest.Subscriber
	if cfg.MQTTBroker != "" {
		mqttClient, err := ingest.NewMQTTClient(ingest.MQTTOptions{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		})
		if err != nil {
			log.Fatalf("Failed to connect to MQTT: %v", err)
		}
		subscriber = ingest.NewSubscriber(mqttClient, pipeline)
		if err := subscriber.Start(); err != nil {
			log.Fatalf("Failed to subscribe to quota stream: %v", err)
		}
	}

	auth := web.NewAuth(cfg.JWTSecret, cfg.AdminUser, cfg.AdminPassHash)
	server := web.NewServer(st, stateCache, processor, auth)
	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.HTTPPort)); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	go startMDNSServer(cfg.MDNSLocalName)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	if subscriber != nil {
		subscriber.Stop()
	}
	scheduler.Stop()
	workers.Stop()
	log.Info("Shutdown complete")
}

func startMDNSServer(localName string) {
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		log.Warnf("Failed to resolve UDP4 address for mDNS: %v", err)
		return
	}
	addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6)
	if err != nil {
		log.Warnf("Failed to resolve UDP6 address for mDNS: %v", err)
		return
	}

	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		log.Warnf("Failed to listen on UDP4 for mDNS: %v", err)
		return
	}
	l6, err := net.ListenUDP("udp6", addr6)
	if err != nil {
		log.Warnf("Failed to listen on UDP6 for mDNS: %v", err)
		return
	}

	if _, err := mdns.Server(ipv4.NewPacketConn(l4), ipv6.NewPacketConn(l6), &mdns.Config{
		LocalNames: []string{localName},
	}); err != nil {
		log.Warnf("Failed to start mDNS server: %v", err)
	}
}
