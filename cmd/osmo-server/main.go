/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NVIDIA/OSMO-sub000/pkg/server"
)

func main() {
	s, err := server.NewServer()
	if err != nil {
		fmt.Println("failed to new server, err: ", err.Error())
		os.Exit(1)
	}
	if err = s.Start(); err != nil {
		fmt.Println("failed to start server, err: ", err.Error())
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	s.Stop()
}
