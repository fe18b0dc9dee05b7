package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"emotiond/internal/inference"
	"emotiond/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
// *inference.Predictor implements it.
type Service interface {
	Predict(ctx context.Context, r io.Reader) (inference.Prediction, error)
	Info() inference.Info
	Ready() bool
}

// FormField is the multipart field carrying the image on POST /model/.
const FormField = "data"

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(middleware.Compress(5, "application/json"))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/", rootHandler)

	predict := predictHandler(svc)
	r.Post("/model/", predict)
	r.Post("/model", predict)

	r.Get("/model/info", modelInfoHandler(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// rootHandler answers the liveness greeting.
//
// @Summary      Liveness greeting
// @Produce      json
// @Success      200  {object}  types.RootResponse
// @Router       / [get]
func rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.RootResponse{Message: "Hello World"})
}

// modelInfoHandler describes the loaded checkpoint.
//
// @Summary      Loaded model description
// @Produce      json
// @Success      200  {object}  types.ModelInfo
// @Failure      503  {object}  types.ErrorResponse
// @Router       /model/info [get]
func modelInfoHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !svc.Ready() {
			writeJSONError(w, http.StatusServiceUnavailable, "model not loaded")
			return
		}
		info := svc.Info()
		writeJSON(w, http.StatusOK, types.ModelInfo{
			Classes:   info.Classes,
			ImageSize: info.ImageSize,
			Epoch:     info.Epoch,
			Hidden:    info.Network.Hidden,
			RunID:     info.RunID,
		})
	}
}

// predictHandler classifies the image uploaded in the "data" multipart field.
//
// @Summary      Classify a face image
// @Description  Accepts a multipart upload and returns the predicted emotion.
// @Accept       multipart/form-data
// @Produce      json
// @Param        data   formData  file    true   "Image (jpeg, png, gif, bmp, webp)"
// @Param        probs  query     string  false  "Set to 1 to include per-class probabilities"
// @Success      200  {object}  types.PredictResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      413  {object}  types.ErrorResponse
// @Failure      415  {object}  types.ErrorResponse
// @Failure      503  {object}  types.ErrorResponse
// @Router       /model/ [post]
func predictHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "multipart/form-data" {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be multipart/form-data")
			return
		}
		// Limit body size (configurable, default 10MiB)
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			if isTooLarge(err) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeJSONError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		defer r.MultipartForm.RemoveAll()
		file, _, err := r.FormFile(FormField)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, `field "data" is required`)
			return
		}
		defer file.Close()

		start := time.Now()
		lvl := requestLogLevel(r)
		if lvl >= LevelInfo {
			if zlog != nil {
				z := zlog.Info().Str("path", r.URL.Path)
				if rid := middleware.GetReqID(r.Context()); rid != "" {
					z = z.Str("request_id", rid)
				}
				z.Msg("predict start")
			} else {
				log.Printf("predict start path=%s", r.URL.Path)
			}
		}

		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if predictTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, time.Duration(predictTimeout)*time.Second)
			defer tcancel()
		}

		pred, err := svc.Predict(ctx, file)
		if err != nil {
			// If context was canceled (client disconnect), just return.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := statusFor(err)
			IncrementPredictErrors(reasonFor(status))
			writeJSONError(w, status, err.Error())
			logPredictEnd(r, lvl, status, start, err)
			return
		}

		resp := types.PredictResponse{Output: pred.Label, Message: "success", StatusCode: http.StatusOK}
		if r.URL.Query().Get("probs") == "1" {
			classes := svc.Info().Classes
			resp.Probabilities = make(map[string]float64, len(pred.Probabilities))
			for i, p := range pred.Probabilities {
				if i < len(classes) {
					resp.Probabilities[classes[i]] = p
				}
			}
		}
		predictionsTotal.WithLabelValues(pred.Label).Inc()
		writeJSON(w, http.StatusOK, resp)
		logPredictEnd(r, lvl, http.StatusOK, start, nil)
	}
}

// statusFor maps well-known service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case inference.IsBadImage(err):
		return http.StatusBadRequest
	case inference.IsNotReady(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// isTooLarge matches a MaxBytesReader overflow, including when multipart
// parsing flattened the error into its message.
func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large")
}

func reasonFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_image"
	case http.StatusServiceUnavailable:
		return "not_ready"
	case http.StatusGatewayTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

func logPredictEnd(r *http.Request, lvl LogLevel, status int, start time.Time, err error) {
	if lvl < LevelInfo {
		return
	}
	if zlog != nil {
		z := zlog.Info().Int("status", status).Dur("dur", time.Since(start))
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		if err != nil {
			z = z.Err(err)
		}
		z.Msg("predict end")
		return
	}
	if err != nil {
		log.Printf("predict end status=%d dur=%s err=%v", status, time.Since(start), err)
		return
	}
	log.Printf("predict end status=%d dur=%s", status, time.Since(start))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
