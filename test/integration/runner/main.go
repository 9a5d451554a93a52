/*
Copyright 2024.

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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"

	"github.com/guided-traffic/ldap-test/internal/command"
	"github.com/guided-traffic/ldap-test/internal/fixture"
	ldaputil "github.com/guided-traffic/ldap-test/internal/ldap"
)

// RunnerConfig holds the command line configuration
type RunnerConfig struct {
	Manifest string
	Suite    string
	Test     string
	Seed     bool
	Once     bool
}

// LoadRunnerConfig parses the command line flags
func LoadRunnerConfig(fs *flag.FlagSet, args []string, zapOpts *zap.Options) (*RunnerConfig, error) {
	config := &RunnerConfig{}

	fs.StringVar(&config.Manifest, "manifest", "", "Path to a YAML file with InMemoryLDAPServer manifests")
	fs.StringVar(&config.Suite, "suite", "", "Suite whose fixture metadata is used")
	fs.StringVar(&config.Test, "test", "", "Test within the suite; falls back to the suite metadata")
	fs.BoolVar(&config.Seed, "seed", true, "Create the naming context entries of every base DN")
	fs.BoolVar(&config.Once, "once", false, "Stop after the smoke checks instead of serving until signalled")
	zapOpts.BindFlags(fs)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if config.Manifest == "" {
		return nil, fmt.Errorf("-manifest is required")
	}
	if config.Suite == "" {
		return nil, fmt.Errorf("-suite is required")
	}
	return config, nil
}

// CheckResult represents the result of a smoke check
type CheckResult struct {
	Name     string
	Passed   bool
	Error    error
	Duration time.Duration
}

// Runner starts a fixture and checks that it serves requests
type Runner struct {
	config  *RunnerConfig
	manager *fixture.Manager
	log     logr.Logger
	results []CheckResult
}

// NewRunner creates a runner for config
func NewRunner(config *RunnerConfig, logger logr.Logger) *Runner {
	return &Runner{config: config, log: logger}
}

// Unit resolves the fixture unit named by the configuration
func (r *Runner) Unit() (fixture.Unit, error) {
	f, err := os.Open(r.config.Manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	registry := fixture.NewRegistry()
	if err := registry.Load(f); err != nil {
		return nil, fmt.Errorf("failed to load manifest %s: %w", r.config.Manifest, err)
	}

	if r.config.Test == "" {
		return registry.SuiteUnit(r.config.Suite), nil
	}
	return registry.Unit(fixture.Description{Suite: r.config.Suite, Name: r.config.Test}), nil
}

// Run starts the fixture, runs the smoke checks and serves until ctx is done
func (r *Runner) Run(ctx context.Context) error {
	unit, err := r.Unit()
	if err != nil {
		return err
	}

	spec, err := fixture.Resolve(unit)
	if err != nil {
		return err
	}

	preload := fixture.NewPreload()
	if r.config.Seed {
		preload = fixture.NamingContextEntries(spec.BaseDNs...)
	}

	r.manager = fixture.NewManager(fixture.WithPreload(preload), fixture.WithLogger(r.log))
	return r.manager.Apply(ctx, unit, func(ctx context.Context) error {
		r.RunCheck("connection", r.checkConnection)
		r.RunCheck("insert", r.checkInsert)
		r.PrintResults()

		if r.config.Once {
			return nil
		}
		r.log.Info("Serving fixture until signalled", "address", r.manager.Address())
		<-ctx.Done()
		return nil
	})
}

// RunCheck runs a single smoke check
func (r *Runner) RunCheck(name string, check func() error) {
	start := time.Now()
	err := check()
	duration := time.Since(start)

	r.results = append(r.results, CheckResult{
		Name:     name,
		Passed:   err == nil,
		Error:    err,
		Duration: duration,
	})

	if err != nil {
		r.log.Error(err, "Check failed", "check", name, "duration", duration)
	} else {
		r.log.Info("Check passed", "check", name, "duration", duration)
	}
}

// PrintResults prints the smoke check summary
func (r *Runner) PrintResults() {
	passed := 0
	for _, result := range r.results {
		if result.Passed {
			passed++
		}
	}

	fmt.Printf("\n=== Fixture %s ===\n", r.manager.Address())
	fmt.Printf("Checks: %d\n", len(r.results))
	fmt.Printf("Passed: %d\n", passed)
	fmt.Printf("Failed: %d\n", len(r.results)-passed)

	for _, result := range r.results {
		if !result.Passed {
			fmt.Printf("  - %s: %v\n", result.Name, result.Error)
		}
	}
}

// GetExitCode returns the exit code for the smoke check results
func (r *Runner) GetExitCode() int {
	for _, result := range r.results {
		if !result.Passed {
			return 1
		}
	}
	return 0
}

func (r *Runner) client() (*ldaputil.Client, error) {
	return ldaputil.NewClient(r.manager.ConnectionSpec(), r.manager.BindPassword())
}

func (r *Runner) checkConnection() error {
	client, err := r.client()
	if err != nil {
		return err
	}
	defer client.Close()
	return client.TestConnection()
}

// checkInsert writes and removes a probe entry below the first base DN
func (r *Runner) checkInsert() error {
	client, err := r.client()
	if err != nil {
		return err
	}
	defer client.Close()

	spec := r.manager.Spec()
	dn := "cn=runner-probe," + spec.BaseDNs[0]
	entry := ldap.NewEntry(dn, map[string][]string{
		"objectClass": {"top", "extensibleObject"},
		"cn":          {"runner-probe"},
	})

	res, err := command.NewInsertCommand(client, entry).Execute(context.Background())
	if err != nil {
		return err
	}
	if !res.Success() {
		return fmt.Errorf("probe insert returned %s", res)
	}
	return client.DeleteEntry(dn)
}

func main() {
	zapOpts := zap.Options{Development: true}
	config, err := LoadRunnerConfig(flag.CommandLine, os.Args[1:], &zapOpts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zapOpts)))
	logger := ctrl.Log.WithName("runner")

	runner := NewRunner(config, logger)
	if err := runner.Run(signals.SetupSignalHandler()); err != nil {
		logger.Error(err, "Fixture runner failed")
		os.Exit(1)
	}
	os.Exit(runner.GetExitCode())
}
