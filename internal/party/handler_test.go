package party

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type fakeFaultRecorder struct {
	sources []string
}

func (f *fakeFaultRecorder) AddIntegrityFaults(source string, count int) {
	for i := 0; i < count; i++ {
		f.sources = append(f.sources, source)
	}
}

func TestStatementHandlerCountsConsistencyFault(t *testing.T) {
	svc, repo := newTestService(t)

	p, err := svc.CreateParty(context.Background(), Party{
		Name:      "Sharma Traders",
		Kind:      KindCustomer,
		StateCode: "27",
	})
	require.NoError(t, err)
	repo.post(p.ID, 1, "invoice", dec("500"), dec("0"))

	// Corrupt the stored balance so the derived closing diverges.
	stored := repo.parties[p.ID]
	stored.Balance = dec("9999")
	repo.parties[p.ID] = stored

	recorder := &fakeFaultRecorder{}
	handler := NewHandler(slog.New(slog.DiscardHandler), svc, recorder)

	router := chi.NewRouter()
	handler.MountRoutes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/parties/1/statement", nil))

	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, []string{"party"}, recorder.sources)

	// A clean statement leaves the counter alone.
	stored.Balance = dec("500")
	repo.parties[p.ID] = stored

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/parties/1/statement", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, recorder.sources, 1)
}
