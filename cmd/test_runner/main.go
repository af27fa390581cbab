package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

var (
	verbose     = flag.Bool("v", false, "verbose output")
	race        = flag.Bool("race", true, "enable the race detector")
	timeout     = flag.Duration("timeout", 5*time.Minute, "test timeout")
	testRegexp  = flag.String("run", "", "run only tests matching the regular expression")
	postgresDSN = flag.String("postgres-dsn", "", "run the PostgreSQL store tests against this database")
	pkgs        = flag.String("pkgs", "./...", "packages to test")
)

type options struct {
	verbose     bool
	race        bool
	timeout     time.Duration
	run         string
	postgresDSN string
	pkgs        string
}

// buildCommand returns the go test arguments and the extra environment.
func buildCommand(o options) ([]string, []string) {
	args := []string{"test"}
	if o.verbose {
		args = append(args, "-v")
	}
	if o.race {
		args = append(args, "-race")
	}
	args = append(args, fmt.Sprintf("-timeout=%s", o.timeout.String()))
	if o.run != "" {
		args = append(args, fmt.Sprintf("-run=%s", o.run))
	}
	// Store tests must not be served from the cache when the database changes.
	if o.postgresDSN != "" {
		args = append(args, "-count=1")
	}
	args = append(args, strings.Fields(o.pkgs)...)

	var env []string
	if o.postgresDSN != "" {
		env = append(env, "POSTGRES_TEST_DSN="+o.postgresDSN)
	}
	return args, env
}

func main() {
	flag.Parse()

	args, extraEnv := buildCommand(options{
		verbose:     *verbose,
		race:        *race,
		timeout:     *timeout,
		run:         *testRegexp,
		postgresDSN: *postgresDSN,
		pkgs:        *pkgs,
	})

	cmd := exec.Command("go", args...)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	fmt.Printf("Running tests with args: %s\n", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Printf("Error running tests: %v\n", err)
		os.Exit(1)
	}
}
