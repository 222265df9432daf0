package controllers

import (
	"net/http"
	"strings"

	"github.com/keyhaven/keyhaven-backend/api/middleware"
	"github.com/keyhaven/keyhaven-backend/api/responses"
	"github.com/keyhaven/keyhaven-backend/api/validators"
	"github.com/keyhaven/keyhaven-backend/internal/orders"
	"github.com/keyhaven/keyhaven-backend/internal/payouts"
	"github.com/keyhaven/keyhaven-backend/internal/reviewqueue"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
	"github.com/keyhaven/keyhaven-backend/pkg/pagination"
)

type resolveReviewTaskRequest struct {
	Resolution string `json:"resolution" validate:"required,max=5000"`
}

// TriggerAutoConfirmSweep runs one auto-confirm pass outside the scheduler.
func TriggerAutoConfirmSweep(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		confirmed, err := svc.RunAutoConfirmSweep(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int{"confirmed": confirmed})
	}
}

// TriggerPayoutSweep enqueues and processes eligible payouts on demand.
func TriggerPayoutSweep(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payouts service unavailable"))
			return
		}

		result, err := svc.RunPayoutSweep(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// TriggerPayoutReconcile reconciles payouts stuck in processing.
func TriggerPayoutReconcile(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payouts service unavailable"))
			return
		}

		reconciled, err := svc.RunReconcileSweep(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int{"reconciled": reconciled})
	}
}

// ListReviewTasks returns manual review tasks filtered by status.
func ListReviewTasks(svc reviewqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "review queue service unavailable"))
			return
		}

		status := enums.ReviewTaskStatusOpen
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseReviewTaskStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			status = parsed
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		tasks, err := svc.List(r.Context(), status, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, tasks)
	}
}

// ResolveReviewTask closes a manual review task with the operator's note.
func ResolveReviewTask(svc reviewqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "review queue service unavailable"))
			return
		}

		taskID, err := validators.ParsePathUUID(r, "taskId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req resolveReviewTaskRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		caller := middleware.CallerFromContext(r.Context())
		task, err := svc.Resolve(r.Context(), taskID, caller.UserID, req.Resolution)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, task)
	}
}
