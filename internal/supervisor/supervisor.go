/*
Copyright The Pgha Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package supervisor owns the keeper's long-lived loops — the FSM
// driver, the DB controller and the notification listener — restarting
// each with exponential backoff whenever it returns before shutdown, and
// stops them cleanly
// on SIGTERM/SIGINT or reconfigures them on SIGHUP. The three loops run
// as cooperatively scheduled goroutines within one process rather than
// as separate OS processes, a collapse the spec explicitly allows
// provided the ordering and single-writer invariants still hold.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pgha-project/pgha/internal/log"
)

const shutdownGracePeriod = 30 * time.Second

// Service is one supervised loop: Run blocks until ctx is cancelled or
// the loop fails, and is restarted with backoff whenever it returns while
// ctx is still live, whether with an error or with nil.
type Service struct {
	Name string
	Run  func(ctx context.Context) error
}

// ReloadFunc re-reads configuration on SIGHUP. PGDATA and node identity
// must never change on reload; implementations refuse and keep the
// previous configuration when they do.
type ReloadFunc func(ctx context.Context) error

// Supervisor runs a fixed set of Services for the lifetime of a process.
type Supervisor struct {
	Services []Service
	OnReload ReloadFunc
	PIDPath  string
}

// Run starts every service and blocks until ctx is cancelled or a
// SIGINT/SIGTERM is received, then stops all services and waits up to
// shutdownGracePeriod for them to exit.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	var wg sync.WaitGroup
	for _, svc := range s.Services {
		wg.Add(1)
		go func(svc Service) {
			defer wg.Done()
			s.superviseOne(ctx, svc)
		}(svc)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		select {
		case sig := <-signals:
			switch sig {
			case syscall.SIGHUP:
				log.Info("received SIGHUP, reloading configuration")
				if s.OnReload != nil {
					if err := s.OnReload(ctx); err != nil {
						log.Error(err, "configuration reload refused, keeping previous configuration")
					}
				}
			default:
				log.Info("received termination signal, stopping services", "signal", sig)
				cancel()
				select {
				case <-done:
				case <-time.After(shutdownGracePeriod):
					log.Warning("services did not stop within the grace period, exiting anyway")
				}
				return nil
			}
		case <-ctx.Done():
			<-done
			return nil
		case <-done:
			return nil
		}
	}
}

// superviseOne runs svc.Run in a loop, restarting it with exponential
// backoff each time it returns, with an error or cleanly, until ctx is
// cancelled.
func (s *Supervisor) superviseOne(ctx context.Context, svc Service) {
	policy := newRestartBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		err := svc.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			log.Info("service exited cleanly, restarting", "service", svc.Name)
		} else {
			log.Error(err, "service exited with error, restarting", "service", svc.Name)
		}

		wait := policy.NextBackOff()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}
