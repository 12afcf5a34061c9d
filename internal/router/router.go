package router

import (
	"net/http"
	"strings"

	"github.com/haulhub/backend/internal/auth"
	"github.com/haulhub/backend/internal/booking"
	"github.com/haulhub/backend/internal/jobs"
	"github.com/haulhub/backend/internal/strikes"
	"github.com/haulhub/backend/internal/wallet"
)

// Middleware wraps a handler; auth and suspension checks are supplied by
// main so the router stays wiring-only.
type Middleware func(http.Handler) http.Handler

// New returns an http.Handler serving the API under /api/v1. Everything but
// register/login sits behind the auth middleware; taking on new work
// additionally passes the suspension gate.
func New(
	authHandler *auth.Handler,
	jobsHandler *jobs.Handler,
	bookingHandler *booking.Handler,
	walletHandler *wallet.Handler,
	profileHandler *strikes.Handler,
	authn Middleware,
	standing Middleware,
) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.HandleFunc(base+"/auth/register", authHandler.Register)
	mux.HandleFunc(base+"/auth/login", authHandler.Login)

	protected := http.NewServeMux()

	protected.HandleFunc(base+"/jobs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			jobsHandler.CreateJob(w, r)
		case http.MethodGet:
			jobsHandler.ListJobs(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	protected.HandleFunc(base+"/jobs/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/applications"):
			jobsHandler.ListApplications(w, r)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/apply"):
			standing(http.HandlerFunc(jobsHandler.Apply)).ServeHTTP(w, r)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/cancel"):
			jobsHandler.CancelJob(w, r)
		case r.Method == http.MethodGet:
			jobsHandler.GetJob(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	protected.HandleFunc(base+"/applications/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/accept"):
			jobsHandler.Accept(w, r)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/reject"):
			jobsHandler.Reject(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	protected.HandleFunc(base+"/bookings", methodGET(bookingHandler.List))
	protected.HandleFunc(base+"/bookings/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/confirm-pickup"):
			bookingHandler.ConfirmPickup(w, r)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/evidence"):
			bookingHandler.UploadEvidence(w, r)
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/evidence"):
			bookingHandler.ListEvidence(w, r)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/mark-done"):
			bookingHandler.MarkDone(w, r)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/confirm-complete"):
			bookingHandler.ConfirmComplete(w, r)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/dispute"):
			bookingHandler.OpenDispute(w, r)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/resolve"):
			bookingHandler.ResolveDispute(w, r)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/no-show"):
			bookingHandler.ReportNoShow(w, r)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/cancel"):
			bookingHandler.Cancel(w, r)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/amendments"):
			bookingHandler.RequestAmendment(w, r)
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/amendments"):
			bookingHandler.ListAmendments(w, r)
		case r.Method == http.MethodGet:
			bookingHandler.Get(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	protected.HandleFunc(base+"/amendments/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/respond") {
			bookingHandler.RespondAmendment(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	protected.HandleFunc(base+"/media/", methodGET(bookingHandler.ServeMedia))

	protected.HandleFunc(base+"/wallet", methodGET(walletHandler.GetWallet))
	protected.HandleFunc(base+"/wallet/deposit", methodPOST(walletHandler.Deposit))
	protected.HandleFunc(base+"/wallet/withdraw", methodPOST(walletHandler.Withdraw))
	protected.HandleFunc(base+"/wallet/ledger", methodGET(walletHandler.ListLedger))

	protected.HandleFunc(base+"/profile", methodGET(profileHandler.GetProfile))

	mux.Handle(base+"/", authn(protected))
	return mux
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
