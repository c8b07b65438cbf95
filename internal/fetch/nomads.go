package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/stratuscast/gridgen/internal/grid"
)

// Region is the geographic crop applied to every fetch.
type Region struct {
	North float64
	South float64
	West  float64
	East  float64
}

// GribDecoder turns a filtered GRIB2 payload into named grids. The
// decoding mechanics (message parsing, projection handling) live behind
// this interface; the service only cares that the requested fields come
// back on lat/lon axes.
type GribDecoder interface {
	Decode(data []byte, fields []string) (map[string]*grid.Grid, error)
}

// gribSelector maps an internal field name onto the NOMADS filter
// variable and level parameters.
type gribSelector struct {
	Variable string
	Level    string
}

var gribSelectors = map[string]gribSelector{
	"apcp":   {Variable: "APCP", Level: "surface"},
	"csnow":  {Variable: "CSNOW", Level: "surface"},
	"t850":   {Variable: "TMP", Level: "850_mb"},
	"t2m":    {Variable: "TMP", Level: "2_m_above_ground"},
	"refc":   {Variable: "REFC", Level: "entire_atmosphere"},
	"ugrd10": {Variable: "UGRD", Level: "10_m_above_ground"},
	"vgrd10": {Variable: "VGRD", Level: "10_m_above_ground"},
}

// modelEndpoint describes one model's NOMADS filter endpoint and file
// naming scheme.
type modelEndpoint struct {
	FilterPath string // e.g. "/cgi-bin/filter_gfs_0p25.pl"
	Dir        func(runTime time.Time) string
	File       func(runTime time.Time, forecastHour int) string
}

var modelEndpoints = map[string]modelEndpoint{
	"gfs": {
		FilterPath: "/cgi-bin/filter_gfs_0p25.pl",
		Dir: func(run time.Time) string {
			return fmt.Sprintf("/gfs.%s/%02d/atmos", run.Format("20060102"), run.Hour())
		},
		File: func(run time.Time, fh int) string {
			return fmt.Sprintf("gfs.t%02dz.pgrb2.0p25.f%03d", run.Hour(), fh)
		},
	},
	"hrrr": {
		FilterPath: "/cgi-bin/filter_hrrr_2d.pl",
		Dir: func(run time.Time) string {
			return fmt.Sprintf("/hrrr.%s/conus", run.Format("20060102"))
		},
		File: func(run time.Time, fh int) string {
			return fmt.Sprintf("hrrr.t%02dz.wrfsfcf%02d.grib2", run.Hour(), fh)
		},
	},
	"aifs": {
		FilterPath: "/cgi-bin/filter_aifs_0p25.pl",
		Dir: func(run time.Time) string {
			return fmt.Sprintf("/aifs.%s/%02d", run.Format("20060102"), run.Hour())
		},
		File: func(run time.Time, fh int) string {
			return fmt.Sprintf("aifs.t%02dz.0p25.f%03d.grib2", run.Hour(), fh)
		},
	},
}

// NOMADSFetcher retrieves cropped raw fields through the NOMADS GRIB
// filter endpoints. HTTP calls run behind a circuit breaker with
// exponential backoff; a tripped breaker fails fast instead of piling
// onto a struggling upstream.
type NOMADSFetcher struct {
	baseURL    string
	httpClient *http.Client
	decoder    GribDecoder
	region     Region
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger

	maxRetries      int
	initialInterval time.Duration
}

// NewNOMADSFetcher creates a fetcher against the given base URL
// (https://nomads.ncep.noaa.gov in production, a test server in tests).
func NewNOMADSFetcher(baseURL string, decoder GribDecoder, region Region, timeout time.Duration, logger *slog.Logger) *NOMADSFetcher {
	return &NOMADSFetcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		decoder:    decoder,
		region:     region,
		logger:     logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "nomads",
			MaxRequests: 2,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		maxRetries:      2,
		initialInterval: 500 * time.Millisecond,
	}
}

// HourAvailable probes the GRIB index sidecar for the forecast hour.
// NOMADS publishes the .idx alongside the data file, so its presence is
// a reliable and cheap readiness signal.
func (f *NOMADSFetcher) HourAvailable(ctx context.Context, model string, runTime time.Time, forecastHour int) (bool, error) {
	ep, ok := modelEndpoints[model]
	if !ok {
		return false, fmt.Errorf("no nomads endpoint for model %q", model)
	}

	idxURL := f.baseURL + path(ep, runTime, forecastHour) + ".idx"
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, idxURL, nil)
	if err != nil {
		return false, err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe %s f%03d: %w", model, forecastHour, err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// FetchRawFields downloads the requested fields through the filter
// endpoint and decodes them. 404s map to NotReady; everything else that
// breaks maps to Failed.
func (f *NOMADSFetcher) FetchRawFields(ctx context.Context, model string, runTime time.Time, forecastHour int, fields []string) Result {
	ep, ok := modelEndpoints[model]
	if !ok {
		return Failed(fmt.Errorf("no nomads endpoint for model %q", model))
	}

	fullURL := f.filterURL(ep, runTime, forecastHour, fields)

	body, status, err := f.getWithRetry(ctx, fullURL)
	if err != nil {
		return Failed(err)
	}
	switch {
	case status == http.StatusNotFound || status == http.StatusForbidden:
		return NotReady(fmt.Sprintf("%s f%03d not published", model, forecastHour))
	case status != http.StatusOK:
		return Failed(fmt.Errorf("nomads status %d for %s f%03d", status, model, forecastHour))
	}

	decoded, err := f.decoder.Decode(body, fields)
	if err != nil {
		return Failed(fmt.Errorf("decode %s f%03d: %w", model, forecastHour, err))
	}

	return Ready(&grid.Dataset{
		Model:        model,
		RunTime:      runTime,
		ForecastHour: forecastHour,
		Fields:       decoded,
	})
}

// filterURL builds the NOMADS filter query: one var_X=on per field, the
// union of needed levels, and the subregion crop.
func (f *NOMADSFetcher) filterURL(ep modelEndpoint, runTime time.Time, forecastHour int, fields []string) string {
	params := url.Values{}
	params.Set("dir", ep.Dir(runTime))
	params.Set("file", ep.File(runTime, forecastHour))
	params.Set("subregion", "")
	params.Set("toplat", fmt.Sprintf("%g", f.region.North))
	params.Set("bottomlat", fmt.Sprintf("%g", f.region.South))
	params.Set("leftlon", fmt.Sprintf("%g", f.region.West))
	params.Set("rightlon", fmt.Sprintf("%g", f.region.East))

	for _, field := range fields {
		sel, ok := gribSelectors[field]
		if !ok {
			continue
		}
		params.Set("var_"+sel.Variable, "on")
		params.Set("lev_"+sel.Level, "on")
	}

	return f.baseURL + ep.FilterPath + "?" + params.Encode()
}

// getWithRetry executes the GET behind the circuit breaker, retrying
// transport-level failures and 5xx responses with exponential backoff.
// Non-retriable statuses (404 etc.) are returned to the caller to map.
func (f *NOMADSFetcher) getWithRetry(ctx context.Context, fullURL string) ([]byte, int, error) {
	backoff := f.initialInterval
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}

		result, err := f.breaker.Execute(func() (any, error) {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
			if reqErr != nil {
				return nil, reqErr
			}
			resp, doErr := f.httpClient.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				io.Copy(io.Discard, resp.Body) //nolint:errcheck
				return nil, fmt.Errorf("server error: status %d", resp.StatusCode)
			}

			body, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				return nil, readErr
			}
			return fetchedResponse{body: body, status: resp.StatusCode}, nil
		})
		if err == nil {
			fr := result.(fetchedResponse)
			return fr.body, fr.status, nil
		}

		lastErr = err
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			// Breaker is shedding load; retrying immediately won't help.
			return nil, 0, fmt.Errorf("nomads circuit open: %w", err)
		}

		f.logger.Warn("nomads request failed, retrying",
			"attempt", attempt+1, "max_retries", f.maxRetries, "error", err)

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, 0, fmt.Errorf("nomads request exhausted retries: %w", lastErr)
}

type fetchedResponse struct {
	body   []byte
	status int
}

func path(ep modelEndpoint, runTime time.Time, forecastHour int) string {
	return ep.Dir(runTime) + "/" + ep.File(runTime, forecastHour)
}
