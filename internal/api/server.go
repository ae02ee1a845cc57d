package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/snapcheck/internal/artifact"
	"github.com/dgnsrekt/snapcheck/internal/cdpcontrol"
	"github.com/dgnsrekt/snapcheck/internal/controller"
	"github.com/dgnsrekt/snapcheck/internal/relay"
)

// Service is the run controller behind the HTTP API.
// *controller.Service satisfies it.
type Service interface {
	Start(req controller.RunRequest) (controller.Run, error)
	Get(id string) (controller.Run, error)
	List() []controller.Run
	Cancel(id string) (controller.Run, error)
}

// Artifacts serves failure screenshots. *artifact.Store satisfies it.
type Artifacts interface {
	Get(id string) (artifact.Meta, error)
	List(runID string) ([]artifact.Meta, error)
	ReadImage(id string) ([]byte, string, error)
}

type runIDInput struct {
	RunID string `path:"run_id"`
}

type runOutput struct {
	Body controller.Run
}

// NewServer builds the router. artifacts and broker may be nil, which
// leaves their endpoints unregistered.
func NewServer(svc Service, artifacts Artifacts, broker *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("snapcheck API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if broker != nil {
		router.Get("/docs/events", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			if _, err := w.Write([]byte(eventsDocsHTML)); err != nil {
				slog.Debug("docs response write failed", "error", err)
			}
		})
		router.Get("/api/v1/runs/events", relay.SSEHandler(broker))
	}

	registerHealthHandlers(api)
	registerRunHandlers(api, svc)
	if artifacts != nil {
		registerArtifactHandlers(api, artifacts)
	}

	return router
}

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}

func registerRunHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "start-run", Method: http.MethodPost, Path: "/api/v1/runs", Summary: "Start a suite run", Description: "Starts the configured suite in the background. Only one run may be active at a time.", Tags: []string{"Runs"}, DefaultStatus: http.StatusAccepted},
		func(ctx context.Context, input *struct {
			Body struct {
				URL           string `json:"url,omitempty" doc:"Page URL overriding the suite url" example:"https://shop.test/search"`
				StartingQuery string `json:"starting_query,omitempty" doc:"Query overriding the suite starting_query" example:"dress"`
			} `required:"false"`
		}) (*runOutput, error) {
			run, err := svc.Start(controller.RunRequest{URL: input.Body.URL, StartingQuery: input.Body.StartingQuery})
			if err != nil {
				return nil, mapErr(err)
			}
			return &runOutput{Body: run}, nil
		})

	type listRunsOutput struct {
		Body struct {
			Runs []controller.Run `json:"runs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-runs", Method: http.MethodGet, Path: "/api/v1/runs", Summary: "List runs", Tags: []string{"Runs"}},
		func(ctx context.Context, input *struct{}) (*listRunsOutput, error) {
			out := &listRunsOutput{}
			out.Body.Runs = svc.List()
			if out.Body.Runs == nil {
				out.Body.Runs = []controller.Run{}
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-run", Method: http.MethodGet, Path: "/api/v1/runs/{run_id}", Summary: "Get run", Tags: []string{"Runs"}},
		func(ctx context.Context, input *runIDInput) (*runOutput, error) {
			run, err := svc.Get(input.RunID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &runOutput{Body: run}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "cancel-run", Method: http.MethodPost, Path: "/api/v1/runs/{run_id}/cancel", Summary: "Cancel a running run", Tags: []string{"Runs"}},
		func(ctx context.Context, input *runIDInput) (*runOutput, error) {
			run, err := svc.Cancel(input.RunID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &runOutput{Body: run}, nil
		})
}

func registerArtifactHandlers(api huma.API, store Artifacts) {
	type listArtifactsOutput struct {
		Body struct {
			Artifacts []artifact.Meta `json:"artifacts"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-run-artifacts", Method: http.MethodGet, Path: "/api/v1/runs/{run_id}/artifacts", Summary: "List failure screenshots of a run", Tags: []string{"Artifacts"}},
		func(ctx context.Context, input *runIDInput) (*listArtifactsOutput, error) {
			metas, err := store.List(input.RunID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listArtifactsOutput{}
			out.Body.Artifacts = metas
			if out.Body.Artifacts == nil {
				out.Body.Artifacts = []artifact.Meta{}
			}
			return out, nil
		})

	type artifactIDInput struct {
		ArtifactID string `path:"artifact_id"`
	}
	type artifactOutput struct {
		Body artifact.Meta
	}
	huma.Register(api, huma.Operation{OperationID: "get-artifact", Method: http.MethodGet, Path: "/api/v1/artifacts/{artifact_id}", Summary: "Get artifact metadata", Tags: []string{"Artifacts"}},
		func(ctx context.Context, input *artifactIDInput) (*artifactOutput, error) {
			meta, err := store.Get(input.ArtifactID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &artifactOutput{Body: meta}, nil
		})

	type imageOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{OperationID: "get-artifact-image", Method: http.MethodGet, Path: "/api/v1/artifacts/{artifact_id}/image", Summary: "Download artifact image", Tags: []string{"Artifacts"}},
		func(ctx context.Context, input *artifactIDInput) (*imageOutput, error) {
			data, format, err := store.ReadImage(input.ArtifactID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &imageOutput{ContentType: "image/" + format, Body: data}, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, artifact.ErrNotFound) {
		return huma.Error404NotFound(err.Error())
	}
	if errors.Is(err, artifact.ErrInvalidID) {
		return huma.Error400BadRequest(err.Error())
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeRunNotFound, cdpcontrol.CodePageNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeRunInProgress:
			return huma.Error409Conflict(coded.Message)
		case cdpcontrol.CodeEvalTimeout, cdpcontrol.CodeWaitTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
