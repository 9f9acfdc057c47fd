package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"chartcore/internal/market"
	"chartcore/internal/series"
	"chartcore/internal/service"
	"chartcore/pkg/model"
)

type chartInput struct {
	Ticker string `path:"ticker" minLength:"1" maxLength:"16" doc:"Ticker symbol"`
	Range  string `query:"range" default:"1D" enum:"1D,1W,1M,3M,YTD,1Y,5Y" doc:"Time range"`
	Mini   bool   `query:"mini" doc:"Render the compact chart"`
	View   string `query:"view" doc:"Chart view id; a newer request for the same view cancels the older one"`
}

type chartOutput struct {
	Body *service.View
}

type tickerInput struct {
	Ticker string `path:"ticker" minLength:"1" maxLength:"16" doc:"Ticker symbol"`
}

type candlesOutput struct {
	Body struct {
		Ticker  string           `json:"ticker"`
		Candles []model.PriceBar `json:"candles"`
	}
}

type statusOutput struct {
	Body market.MarketStatus
}

func (s *Server) registerHandlers(api huma.API) {
	huma.Register(api, huma.Operation{OperationID: "get-chart", Method: http.MethodGet, Path: "/api/v1/chart/{ticker}", Summary: "Chart view for a ticker and range", Tags: []string{"Chart"}},
		func(ctx context.Context, input *chartInput) (*chartOutput, error) {
			view, err := s.svc.Build(ctx, service.Request{
				Ticker: input.Ticker,
				Range:  model.TimeRange(input.Range),
				Mini:   input.Mini,
				View:   input.View,
			})
			if err != nil {
				return nil, mapErr(err)
			}
			return &chartOutput{Body: view}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-candles", Method: http.MethodGet, Path: "/api/v1/candles/{ticker}", Summary: "Today's 5-minute candles including the forming one", Tags: []string{"Chart"}},
		func(ctx context.Context, input *tickerInput) (*candlesOutput, error) {
			candles, err := s.svc.Candles(ctx, input.Ticker)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &candlesOutput{}
			out.Body.Ticker = input.Ticker
			out.Body.Candles = candles
			if out.Body.Candles == nil {
				out.Body.Candles = []model.PriceBar{}
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-market-status", Method: http.MethodGet, Path: "/api/v1/market/status", Summary: "Current market session", Tags: []string{"Market"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			if s.status != nil {
				if st := s.status.Current(); !st.CurrentTime.IsZero() {
					return &statusOutput{Body: st}, nil
				}
			}
			return &statusOutput{Body: s.svc.Status(ctx)}, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, series.ErrStale):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, service.ErrCandlesUnavailable):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}
