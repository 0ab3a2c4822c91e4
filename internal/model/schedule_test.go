package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	got, err := ParseTimeOfDay("09:05")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 9, Minute: 5}, got)

	got, err = ParseTimeOfDay(" 7:30 ")
	require.NoError(t, err)
	assert.Equal(t, "07:30", got.String())

	for _, raw := range []string{"", "24:00", "12:60", "12", "12:5", "ab:cd", "-1:00", "123:00"} {
		_, err := ParseTimeOfDay(raw)
		assert.Truef(t, errors.Is(err, ErrInvalidTimeOfDay), "input %q", raw)
	}
}

func TestParseRecurrence_AcceptsFormAliases(t *testing.T) {
	t.Parallel()

	cases := map[string]Recurrence{
		"once":      Once,
		"unica":     Once,
		"Diaria":    Daily,
		"daily":     Daily,
		"seg-sex":   Weekdays,
		" weekdays": Weekdays,
	}
	for raw, want := range cases {
		got, err := ParseRecurrence(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}

	_, err := ParseRecurrence("hourly")
	assert.True(t, errors.Is(err, ErrInvalidRecurrence))
}

func TestTrigger_CronSpec(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "4 9 * * *", Recurring(Daily, TimeOfDay{Hour: 9, Minute: 4}).CronSpec())
	assert.Equal(t, "0 18 * * 1-5", Recurring(Weekdays, TimeOfDay{Hour: 18}).CronSpec())
	assert.Empty(t, OnceAt(time.Now()).CronSpec())
}

func TestJob_TriggerFromMetadata(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 2, 10, 0, 10, 0, time.UTC)
	once := Job{Recurrence: Once, FireAt: &at}
	tr := once.Trigger()
	assert.Equal(t, Once, tr.Recurrence)
	assert.True(t, tr.At.Equal(at))
	assert.Equal(t, TimeOfDay{Hour: 10}, tr.Fire)

	daily := Job{Recurrence: Daily, TimeOfDay: TimeOfDay{Hour: 9}, FireTime: TimeOfDay{Hour: 9, Minute: 2}}
	assert.Equal(t, "2 9 * * *", daily.Trigger().CronSpec())
}

func TestTimeOfDay_JSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(struct {
		T TimeOfDay `json:"t"`
	}{TimeOfDay{Hour: 8, Minute: 3}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":"08:03"}`, string(b))

	var out struct {
		T TimeOfDay `json:"t"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"t":"23:59"}`), &out))
	assert.Equal(t, TimeOfDay{Hour: 23, Minute: 59}, out.T)
}

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "5511999990000", NormalizePhone("+55 (11) 99999-0000"))
	assert.Empty(t, NormalizePhone("abc"))
}

func TestActor_CanAccess(t *testing.T) {
	t.Parallel()

	assert.True(t, Actor{TenantID: 1}.CanAccess(1))
	assert.False(t, Actor{TenantID: 1}.CanAccess(2))
	assert.True(t, Actor{TenantID: 1, IsAdmin: true}.CanAccess(2))
}
