package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockGameStateAccessor implements GameStateAccessor for testing
type mockGameStateAccessor struct {
	drawPile int
	color    string
	turn     int
	active   int
	hands    map[string][]string
}

func newMockGameStateAccessor() *mockGameStateAccessor {
	return &mockGameStateAccessor{
		turn:   1,
		active: 2,
		hands:  make(map[string][]string),
	}
}

func (m *mockGameStateAccessor) DrawPileSize() int      { return m.drawPile }
func (m *mockGameStateAccessor) CurrentColor() string   { return m.color }
func (m *mockGameStateAccessor) CurrentTurn() int       { return m.turn }
func (m *mockGameStateAccessor) ActivePlayerCount() int { return m.active }

func (m *mockGameStateAccessor) HandSize(playerID string) int {
	return len(m.hands[playerID])
}

func (m *mockGameStateAccessor) HasCardSubtype(playerID, subtype string) bool {
	for _, s := range m.hands[playerID] {
		if s == subtype {
			return true
		}
	}
	return false
}

func TestEvaluateEmptyListIsLegal(t *testing.T) {
	ev := NewConditionEvaluator(nil)
	result := ev.Evaluate("p1", nil)
	assert.True(t, result.Legal)
}

func TestEvaluateHasCardType(t *testing.T) {
	state := newMockGameStateAccessor()
	state.hands["p1"] = []string{"number", "defuse"}
	ev := NewConditionEvaluator(state)

	result := ev.Evaluate("p1", []Condition{{Type: ConditionHasCardType, Value: "defuse"}})
	assert.True(t, result.Legal)

	result = ev.Evaluate("p2", []Condition{{Type: ConditionHasCardType, Value: "defuse"}})
	assert.False(t, result.Legal)
	assert.Equal(t, "No defuse card in hand", result.Reason)
}

func TestEvaluateNegatedCondition(t *testing.T) {
	state := newMockGameStateAccessor()
	state.hands["p1"] = []string{"defuse"}
	ev := NewConditionEvaluator(state)

	lacksDefuse := []Condition{{Type: ConditionHasCardType, Value: "defuse", Negate: true}}

	result := ev.Evaluate("p1", lacksDefuse)
	assert.False(t, result.Legal)
	assert.Equal(t, "Has a defuse card in hand", result.Reason)

	result = ev.Evaluate("p2", lacksDefuse)
	assert.True(t, result.Legal)
}

func TestEvaluateNumericPredicates(t *testing.T) {
	state := newMockGameStateAccessor()
	state.drawPile = 3
	state.turn = 4
	state.active = 3
	state.hands["p1"] = []string{"a", "b"}
	ev := NewConditionEvaluator(state)

	tests := []struct {
		name   string
		cond   Condition
		legal  bool
		reason string
	}{
		{"deck size met", Condition{Type: ConditionDeckSizeGTE, Value: 3}, true, ""},
		{"deck size short", Condition{Type: ConditionDeckSizeGTE, Value: float64(5)}, false, "Draw pile has only 3 cards"},
		{"hand size ok", Condition{Type: ConditionHandSizeLTE, Value: "2"}, true, ""},
		{"hand size too big", Condition{Type: ConditionHandSizeLTE, Value: 1}, false, "Too many cards in hand"},
		{"turn reached", Condition{Type: ConditionTurnNumberGTE, Value: 4}, true, ""},
		{"turn too early", Condition{Type: ConditionTurnNumberGTE, Value: 5}, false, "Too early in the game"},
		{"exact players", Condition{Type: ConditionPlayerCountEq, Value: 3}, true, ""},
		{"wrong players", Condition{Type: ConditionPlayerCountEq, Value: 2}, false, "Need exactly 2 players remaining"},
		{"few enough players", Condition{Type: ConditionPlayerCountLTE, Value: 3}, true, ""},
		{"too many players", Condition{Type: ConditionPlayerCountLTE, Value: 2}, false, "Too many players remaining"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ev.Evaluate("p1", []Condition{tt.cond})
			assert.Equal(t, tt.legal, result.Legal)
			assert.Equal(t, tt.reason, result.Reason)
		})
	}
}

func TestEvaluateShortCircuitsOnFirstFailure(t *testing.T) {
	state := newMockGameStateAccessor()
	state.color = "red"
	ev := NewConditionEvaluator(state)

	result := ev.Evaluate("p1", []Condition{
		{Type: ConditionActiveColor, Value: "red"},
		{Type: ConditionActiveColor, Value: "blue"},
		{Type: ConditionHasCardType, Value: "defuse"},
	})
	require.False(t, result.Legal)
	assert.Equal(t, "Active color is not blue", result.Reason)
	assert.Equal(t, "1", result.Details["index"])
}

func TestEvaluateRejectsUnknownAndMalformed(t *testing.T) {
	ev := NewConditionEvaluator(newMockGameStateAccessor())

	result := ev.Evaluate("p1", []Condition{{Type: "moon_phase", Value: "full"}})
	assert.False(t, result.Legal)
	assert.Contains(t, result.Reason, "Unknown condition")

	result = ev.Evaluate("p1", []Condition{{Type: ConditionDeckSizeGTE, Value: "lots"}})
	assert.False(t, result.Legal)
	assert.Contains(t, result.Reason, "needs a numeric value")
}

func TestIntValueCoercion(t *testing.T) {
	n, ok := IntValue(float64(7))
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	n, ok = IntValue(" 12 ")
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = IntValue(nil)
	assert.False(t, ok)
}
