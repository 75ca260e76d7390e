package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSource struct{ sessions, users int }

func (s fixedSource) Count() int       { return s.sessions }
func (s fixedSource) OnlineUsers() int { return s.users }

// gathered flattens the registry into name -> value of the first series.
func gathered(t *testing.T, m *Metrics) map[string]float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		metric := f.GetMetric()[0]
		switch {
		case metric.GetCounter() != nil:
			values[f.GetName()] = metric.GetCounter().GetValue()
		case metric.GetGauge() != nil:
			values[f.GetName()] = metric.GetGauge().GetValue()
		}
	}
	return values
}

func TestNew_RegistersCollectors(t *testing.T) {
	m := New(nil)
	require.NotNil(t, m.Registry)

	m.PublishFailures.WithLabelValues("message_queue").Inc()
	m.Drops.WithLabelValues(DropOverflow).Add(2)

	values := gathered(t, m)
	assert.Equal(t, 1.0, values["chathub_broker_publish_failures_total"])
	assert.Equal(t, 2.0, values["chathub_session_drops_total"])
}

func TestTrackSessions(t *testing.T) {
	m := New(nil)
	m.TrackSessions(fixedSource{sessions: 3, users: 2})

	values := gathered(t, m)
	assert.Equal(t, 3.0, values["chathub_sessions_live"])
	assert.Equal(t, 2.0, values["chathub_users_online"])
}
