// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/forgeworks/forge/deploy"
	"github.com/forgeworks/forge/llm"
	"github.com/forgeworks/forge/llm/log"
	"github.com/forgeworks/forge/mcp"
	"github.com/forgeworks/forge/registry"
	"github.com/forgeworks/forge/store"
	"github.com/forgeworks/forge/workflow"
	"github.com/forgeworks/forge/workspace"
)

const Version = "0.1.0"

const Usage = `forge <Action> [Path] [Flags]
Action:
   serve        run the agent assembly engine as an MCP server over stdio
   validate     validate a workspace directory and print findings
   tools        list the registry tools available to sessions
   version      print the version of forge
`

func main() {
	flags := flag.NewFlagSet("forge", flag.ExitOnError)

	flagHelp := flags.Bool("h", false, "Show help message.")
	flagVerbose := flags.Bool("verbose", false, "Verbose mode.")
	flagDB := flags.String("db", "forge.db", "Session database path, \"memory\" keeps sessions in process.")
	flagWorkspaces := flags.String("workspaces", "", "Directory to mirror session workspaces into.")
	flagToolsDir := flags.String("tools-dir", "", "Directory of local tool definition YAML files.")
	flagManifests := flags.String("manifests", "", "Directory for finalized agent manifests.")
	flagRegistry := flags.String("registry", "", "Image registry prefix for build and deploy actions.")
	flagLogFile := flags.String("log-file", "", "Route logs to a rotating file instead of stderr.")
	flagGopls := flags.String("gopls", "", "Language server command for type checks, \"off\" disables, empty auto-detects gopls.")
	flagNoOracle := flags.Bool("no-oracle", false, "Serve without an LLM, generation operations fail until one is configured.")
	flagAgentReview := flags.Bool("agent-review", false, "Route tool review through a react agent with external MCP tools.")

	flags.Usage = func() {
		fmt.Fprint(os.Stderr, Usage)
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flags.PrintDefaults()
	}

	if len(os.Args) < 2 {
		flags.Usage()
		os.Exit(1)
	}
	action := strings.ToLower(os.Args[1])

	switch action {
	case "version":
		fmt.Fprintf(os.Stdout, "%s\n", Version)

	case "serve":
		_ = flags.Parse(os.Args[2:])
		if *flagHelp {
			flags.Usage()
			return
		}
		if *flagVerbose {
			log.SetLogLevel(log.DebugLevel)
		}
		if *flagLogFile != "" {
			log.SetOutputFile(*flagLogFile)
		}

		eng, cleanup, err := buildEngine(engineConfig{
			db:          *flagDB,
			workspaces:  *flagWorkspaces,
			toolsDir:    *flagToolsDir,
			manifests:   *flagManifests,
			registry:    *flagRegistry,
			gopls:       *flagGopls,
			noOracle:    *flagNoOracle,
			agentReview: *flagAgentReview,
		})
		if err != nil {
			log.Error("Failed to start: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		svr := mcp.NewServer(mcp.ServerOptions{
			ServerName:    "forge",
			ServerVersion: Version,
			Engine:        eng,
		})
		if err := svr.ServeStdio(); err != nil {
			log.Error("Failed to run MCP server: %v\n", err)
			os.Exit(1)
		}

	case "tools":
		_ = flags.Parse(os.Args[2:])
		if *flagHelp {
			flags.Usage()
			return
		}
		reg := registry.New()
		if *flagToolsDir != "" {
			reg.SetLocalDir(*flagToolsDir)
		}
		if err := reg.Discover(); err != nil {
			log.Error("Failed to discover tools: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprint(os.Stdout, reg.Describe(nil))

	case "validate":
		if len(os.Args) < 3 {
			flags.Usage()
			os.Exit(1)
		}
		dir := os.Args[2]
		_ = flags.Parse(os.Args[3:])
		if *flagVerbose {
			log.SetLogLevel(log.DebugLevel)
		}

		files, err := workspace.LoadDir(dir)
		if err != nil {
			log.Error("Failed to load %s: %v\n", dir, err)
			os.Exit(1)
		}
		v := &workspace.Validator{Checker: buildChecker(*flagGopls)}
		findings := v.Validate(context.Background(), files)
		for _, f := range findings {
			fmt.Fprintln(os.Stdout, f.String())
		}
		if len(findings) > 0 {
			os.Exit(1)
		}
		log.Info("%s: no findings\n", dir)

	default:
		flags.Usage()
		os.Exit(1)
	}
}

type engineConfig struct {
	db          string
	workspaces  string
	toolsDir    string
	manifests   string
	registry    string
	gopls       string
	noOracle    bool
	agentReview bool
}

func buildEngine(cfg engineConfig) (*workflow.Engine, func(), error) {
	cleanup := func() {}

	var st workflow.Store
	if cfg.db == "memory" {
		st = store.NewMemory()
	} else {
		db, err := store.NewSQLite(cfg.db)
		if err != nil {
			return nil, cleanup, err
		}
		st = db
		cleanup = func() {
			if err := db.Close(); err != nil {
				log.Warn("Failed to close session database: %v\n", err)
			}
		}
	}

	reg := registry.New()
	if cfg.toolsDir != "" {
		reg.SetLocalDir(cfg.toolsDir)
	}
	if err := reg.Discover(); err != nil {
		return nil, cleanup, errors.WithMessage(err, "discover tools")
	}
	if cfg.toolsDir != "" {
		if err := reg.Watch(); err != nil {
			log.Warn("Tool directory watch disabled: %v\n", err)
		}
	}

	var oracle workflow.Oracle
	if cfg.noOracle {
		oracle = stubOracle{}
	} else {
		var err error
		oracle, err = llm.NewChatOracle(llm.OracleOptions{
			Model:        modelFromEnv(),
			WorkspaceDir: cfg.workspaces,
			AgentReview:  cfg.agentReview,
		})
		if err != nil {
			return nil, cleanup, errors.WithMessage(err, "configure oracle")
		}
	}

	var registrar workflow.Registrar
	if cfg.manifests != "" {
		registrar = &workflow.FileRegistrar{Dir: cfg.manifests}
	}

	eng, err := workflow.New(workflow.Options{
		Store:        st,
		Oracle:       oracle,
		Tools:        reg,
		Deployer:     deploy.NewBackend(cfg.registry),
		Registrar:    registrar,
		Checker:      buildChecker(cfg.gopls),
		WorkspaceDir: cfg.workspaces,
	})
	if err != nil {
		return nil, cleanup, err
	}
	return eng, cleanup, nil
}

// buildChecker resolves the type-check language server. Empty auto-detects
// gopls on PATH, "off" disables type checks entirely.
func buildChecker(command string) workspace.TypeChecker {
	switch command {
	case "off":
		return nil
	case "":
		path, err := exec.LookPath("gopls")
		if err != nil {
			log.Info("gopls not found, validation is limited to syntax and imports\n")
			return nil
		}
		return &workspace.LSPChecker{Command: []string{path, "serve"}}
	default:
		return &workspace.LSPChecker{Command: strings.Fields(command)}
	}
}

func modelFromEnv() llm.ModelConfig {
	var m llm.ModelConfig
	m.APIType = llm.NewModelType(os.Getenv("API_TYPE"))
	if m.APIType == llm.ModelTypeUnknown {
		log.Error("env API_TYPE is required")
		os.Exit(1)
	}
	m.APIKey = os.Getenv("API_KEY")
	if m.APIKey == "" {
		log.Error("env API_KEY is required")
		os.Exit(1)
	}
	m.ModelName = os.Getenv("MODEL_NAME")
	if m.ModelName == "" {
		log.Error("env MODEL_NAME is required")
		os.Exit(1)
	}
	m.BaseURL = os.Getenv("BASE_URL")
	return m
}

// stubOracle backs --no-oracle serving. Browsing and review operations that
// never touch the LLM keep working, generation fails with a clear error.
type stubOracle struct{}

var errNoOracle = errors.New("no LLM configured: restart without --no-oracle and set API_TYPE, API_KEY, MODEL_NAME")

func (stubOracle) GenerateTools(ctx context.Context, req workflow.ToolGenRequest) ([]workflow.Tool, error) {
	return nil, errNoOracle
}

func (stubOracle) Clarify(ctx context.Context, req workflow.ClarifyRequest) (workflow.ClarifyResult, error) {
	return workflow.ClarifyResult{}, errNoOracle
}

func (stubOracle) ReviewTools(ctx context.Context, req workflow.ReviewRequest) (*workflow.ToolChanges, error) {
	return nil, errNoOracle
}

func (stubOracle) GenerateLogic(ctx context.Context, req workflow.LogicRequest) (string, error) {
	return "", errNoOracle
}
