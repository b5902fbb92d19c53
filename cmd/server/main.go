package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"redis/internal/server"
)

func main() {
	port := flag.Int("port", 6379, "Port to listen on")
	replicaof := flag.String("replicaof", "", "host port of the primary to replicate from")
	flag.Parse()

	cfg := server.DefaultConfig()
	cfg.Port = *port

	if *replicaof != "" {
		host, portStr, err := splitReplicaOf(*replicaof, flag.Args())
		if err != nil {
			log.Fatalf("invalid --replicaof: %v", err)
		}
		replicaPort, err := strconv.Atoi(portStr)
		if err != nil {
			log.Fatalf("invalid --replicaof port %q: %v", portStr, err)
		}
		cfg.ReplicaOfHost = host
		cfg.ReplicaOfPort = replicaPort
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.NewRedisServer(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutting down server...")
		cancel()
		srv.Shutdown()
	}()

	log.Printf("Starting Redis server on %s:%d", cfg.Host, cfg.Port)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// splitReplicaOf accepts both "--replicaof host port" (the two-token
// form, where flag.Parse consumes "host" as the flag's value and
// leaves "port" as a trailing positional argument) and a single
// "--replicaof host:port" token.
func splitReplicaOf(hostArg string, trailing []string) (host, port string, err error) {
	if len(trailing) > 0 {
		return hostArg, trailing[0], nil
	}
	for i := len(hostArg) - 1; i >= 0; i-- {
		if hostArg[i] == ':' {
			return hostArg[:i], hostArg[i+1:], nil
		}
	}
	return "", "", &replicaOfFormatError{hostArg}
}

type replicaOfFormatError struct{ raw string }

func (e *replicaOfFormatError) Error() string {
	return "expected \"--replicaof <host> <port>\", got \"" + e.raw + "\""
}
