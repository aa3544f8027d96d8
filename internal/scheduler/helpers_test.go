package scheduler

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/mealdelivery/internal/clock"
	deliverydomain "github.com/smallbiznis/mealdelivery/internal/delivery/domain"
	deliveryrepository "github.com/smallbiznis/mealdelivery/internal/delivery/repository"
	obsmetrics "github.com/smallbiznis/mealdelivery/internal/observability/metrics"
	subscriptionrepository "github.com/smallbiznis/mealdelivery/internal/subscription/repository"
	"github.com/smallbiznis/mealdelivery/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	sched    *Scheduler
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T, now time.Time, cfg Config) *testEnv {
	t.Helper()

	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)
	obsmetrics.ResetSchedulerMetricsForTest()

	db := testutil.OpenDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(now)

	return &testEnv{
		db:       db,
		clock:    clk,
		registry: registry,
		sched:    newSchedulerWithRepo(t, db, clk, node, deliveryrepository.Provide(), cfg),
	}
}

func newSchedulerWithRepo(t *testing.T, db *gorm.DB, clk clock.Clock, node *snowflake.Node, deliveries deliverydomain.Repository, cfg Config) *Scheduler {
	t.Helper()
	sched, err := New(Params{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clk,
		Deliveries:    deliveries,
		Subscriptions: subscriptionrepository.Provide(),
		Config:        cfg,
	})
	require.NoError(t, err)
	return sched
}

// seedSubscriber creates a user with an ACTIVE subscription and one meal on date.
func seedSubscriber(t *testing.T, db *gorm.DB, base int64, address *string, preferredTime string, date time.Time) {
	t.Helper()
	testutil.User(t, db, base, "user"+snowflake.ID(base).String()+"@example.com", "Test User", address)
	testutil.Plan(t, db, base+1, "Weekly")
	testutil.Subscription(t, db, base+2, base, base+1, preferredTime, "ACTIVE")
	testutil.Meal(t, db, base+3, "Lentil Curry")
	testutil.ScheduleMeal(t, db, base+4, base+2, base+3, date, 1)
}

func loadDelivery(t *testing.T, db *gorm.DB, id snowflake.ID) *deliverydomain.Delivery {
	t.Helper()
	d, err := deliveryrepository.Provide().FindByID(t.Context(), db, id, false)
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}

func strPtr(s string) *string { return &s }
