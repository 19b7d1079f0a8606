package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jason-s-yu/parchi/internal/database"
	"github.com/jason-s-yu/parchi/internal/game"
	"github.com/jason-s-yu/parchi/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatID int64 = -1001

// recordingNotifier collects messages instead of sending them.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs map[int64][]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{msgs: make(map[int64][]string)}
}

func (r *recordingNotifier) Notify(_ context.Context, recipient int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[recipient] = append(r.msgs[recipient], text)
	return nil
}

func (r *recordingNotifier) last(recipient int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.msgs[recipient]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type recordingPublisher struct {
	mu      sync.Mutex
	actions []models.GameAction
}

func (p *recordingPublisher) PublishGameAction(_ context.Context, a models.GameAction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, a)
	return nil
}

// sortedDeal gives player i four cards of rank i+1.
func sortedDeal(players []int64) (*game.Game, error) {
	hands := make(map[int64][]int, len(players))
	for i, p := range players {
		hands[p] = []int{i + 1, i + 1, i + 1, i + 1}
	}
	return game.NewGame(players, game.WithHands(hands))
}

type fixture struct {
	svc      *Service
	store    *database.SQLite
	notifier *recordingNotifier
	actions  *recordingPublisher
}

func setupService(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := database.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { store.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	f := &fixture{
		store:    store,
		notifier: newRecordingNotifier(),
		actions:  &recordingPublisher{},
	}
	opts = append([]Option{WithActionPublisher(f.actions)}, opts...)
	f.svc = NewService(store, f.notifier, logger, opts...)
	return f
}

// seatPlayers starts a room and joins users 1..n.
func (f *fixture) seatPlayers(t *testing.T, n int) []int64 {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Start(ctx, chatID)
	require.NoError(t, err)
	names := []string{"asha", "bilal", "chetan", "devi", "esha", "farhan", "gita"}
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
		require.NoError(t, f.svc.Join(ctx, chatID, ids[i], names[i]))
	}
	return ids
}

func TestStartIsIdempotent(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	r1, err := f.svc.Start(ctx, chatID)
	require.NoError(t, err)
	r2, err := f.svc.Start(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, r1.ID, r2.ID)
	assert.Contains(t, f.notifier.last(chatID), "Players can /join.")
}

func TestJoinRequiresRoom(t *testing.T) {
	f := setupService(t)
	err := f.svc.Join(context.Background(), chatID, 1, "asha")
	assert.ErrorIs(t, err, ErrNoRoom)
	assert.Equal(t, "No room. Use /start first.", ErrorText(err))
}

func TestBeginEnforcesPlayerCount(t *testing.T) {
	f := setupService(t)
	f.seatPlayers(t, 3)

	_, err := f.svc.Begin(context.Background(), chatID)
	assert.ErrorIs(t, err, ErrPlayerCount)
	assert.Equal(t, "Need 4-6 players to begin.", ErrorText(err))

	f7 := setupService(t)
	f7.seatPlayers(t, 7)
	_, err = f7.svc.Begin(context.Background(), chatID)
	assert.ErrorIs(t, err, ErrPlayerCount)
}

func TestBeginDealsAndNotifies(t *testing.T) {
	f := setupService(t)
	ids := f.seatPlayers(t, 4)
	ctx := context.Background()

	g, err := f.svc.Begin(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, ids, g.Players(), "seat order follows join order")
	assert.Equal(t, "Game started!", f.notifier.last(chatID))
	for _, id := range ids {
		assert.Contains(t, f.notifier.last(id), "It's asha's turn.")
	}

	_, err = f.svc.Begin(ctx, chatID)
	assert.ErrorIs(t, err, ErrGameInProgress)

	err = f.svc.Join(ctx, chatID, 99, "late")
	assert.ErrorIs(t, err, ErrGameInProgress)
}

func TestPassFlow(t *testing.T) {
	f := setupService(t, WithGameFactory(sortedDeal))
	ids := f.seatPlayers(t, 4)
	ctx := context.Background()
	_, err := f.svc.Begin(ctx, chatID)
	require.NoError(t, err)

	// out of turn
	err = f.svc.Pass(ctx, chatID, ids[1], 2)
	assert.ErrorIs(t, err, game.ErrNotYourTurn)
	assert.Equal(t, "Not your turn", ErrorText(err))

	// card not held
	err = f.svc.Pass(ctx, chatID, ids[0], 3)
	assert.ErrorIs(t, err, game.ErrCardNotHeld)

	require.NoError(t, f.svc.Pass(ctx, chatID, ids[0], 1))
	assert.Equal(t, "You passed 1. Your new hand: [1, 1, 1]", f.notifier.last(ids[0]))
	assert.Equal(t, "asha passed a card to bilal.", f.notifier.last(chatID))
	assert.Equal(t, "Your hand: [2, 2, 2, 2]\nIt's your turn.", f.notifier.last(ids[1]))

	require.NoError(t, f.svc.Pass(ctx, chatID, ids[1], 2))
	assert.Equal(t, "You passed 2. Your new hand: [2, 2, 2, 1]", f.notifier.last(ids[1]))

	room, err := f.store.GetRoomByChat(ctx, chatID)
	require.NoError(t, err)
	g, err := f.store.Load(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[2], g.CurrentPlayer())
	prev, ok := g.PreviousCard()
	require.True(t, ok)
	assert.Equal(t, 2, prev)

	require.Len(t, f.actions.actions, 2)
	assert.Equal(t, 1, f.actions.actions[0].ActionIndex)
	assert.Equal(t, models.ActionPass, f.actions.actions[1].ActionType)
	assert.Equal(t, ids[1], f.actions.actions[1].ActorID)
}

func TestPassWinRemovesRoom(t *testing.T) {
	f := setupService(t, WithGameFactory(winningDeal))
	ids := f.seatPlayers(t, 4)
	ctx := context.Background()
	_, err := f.svc.Begin(ctx, chatID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Pass(ctx, chatID, ids[0], 1))
	require.NoError(t, f.svc.Pass(ctx, chatID, ids[1], 2))
	assert.Equal(t, "🎉 bilal won!", f.notifier.last(chatID))

	_, err = f.store.GetRoomByChat(ctx, chatID)
	assert.ErrorIs(t, err, database.ErrRoomNotFound)

	require.Len(t, f.actions.actions, 2)
	assert.Equal(t, models.ActionWin, f.actions.actions[1].ActionType)

	err = f.svc.Pass(ctx, chatID, ids[2], 2)
	assert.ErrorIs(t, err, ErrNoRoom)
}

func winningDeal(players []int64) (*game.Game, error) {
	return game.NewGame(players, game.WithHands(map[int64][]int{
		players[0]: {1, 2, 3, 4},
		players[1]: {1, 1, 1, 2},
		players[2]: {2, 2, 3, 3},
		players[3]: {3, 4, 4, 4},
	}))
}

func (r *recordingNotifier) all(recipient int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs[recipient]...)
}

func TestWinningPassAnnouncesPassBeforeWinner(t *testing.T) {
	f := setupService(t, WithGameFactory(winningDeal))
	ids := f.seatPlayers(t, 4)
	ctx := context.Background()
	_, err := f.svc.Begin(ctx, chatID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Pass(ctx, chatID, ids[0], 1))
	before := len(f.notifier.all(ids[2]))
	require.NoError(t, f.svc.Pass(ctx, chatID, ids[1], 2))

	chat := f.notifier.all(chatID)
	require.GreaterOrEqual(t, len(chat), 2)
	assert.Equal(t, []string{"bilal passed a card to chetan.", "🎉 bilal won!"}, chat[len(chat)-2:])
	assert.Equal(t, "You passed 2. Your new hand: [1, 1, 1, 1]", f.notifier.last(ids[1]))
	assert.Len(t, f.notifier.all(ids[2]), before, "no turn prompt once the game is won")
}

// removeFails breaks RemoveRoom on top of a working store.
type removeFails struct {
	*database.SQLite
}

func (removeFails) RemoveRoom(context.Context, int64) error {
	return errors.New("disk full")
}

func TestWinSurvivesFailedCleanup(t *testing.T) {
	ctx := context.Background()
	sqlite, err := database.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(ctx))
	t.Cleanup(func() { sqlite.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	notifier := newRecordingNotifier()
	svc := NewService(removeFails{sqlite}, notifier, logger, WithGameFactory(winningDeal))
	f := &fixture{svc: svc, store: sqlite, notifier: notifier}
	ids := f.seatPlayers(t, 4)

	_, err = svc.Begin(ctx, chatID)
	require.NoError(t, err)
	require.NoError(t, svc.Pass(ctx, chatID, ids[0], 1))
	err = svc.Pass(ctx, chatID, ids[1], 2)
	assert.ErrorContains(t, err, "disk full")

	room, err := sqlite.GetRoomByChat(ctx, chatID)
	require.NoError(t, err)
	stored, err := sqlite.Load(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsFinished(), "the finished game is what stays behind")

	// the room cannot be played on, but a new game can be dealt
	err = svc.Pass(ctx, chatID, ids[2], 2)
	assert.ErrorIs(t, err, ErrNoGame)
	_, err = svc.Begin(ctx, chatID)
	assert.NoError(t, err)
}

type fakeIssuer struct{}

func (fakeIssuer) CreateToken(recipient int64) (string, error) {
	return fmt.Sprintf("tok%d", recipient), nil
}

func TestSubscriptionTokensAreHandedOut(t *testing.T) {
	f := setupService(t, WithGameFactory(sortedDeal), WithTokenIssuer(fakeIssuer{}))
	ids := f.seatPlayers(t, 4)
	ctx := context.Background()

	start := f.notifier.all(chatID)[0]
	assert.True(t, strings.HasSuffix(start, fmt.Sprintf("\nLive updates: /ws/%d?token=tok%d", chatID, chatID)), start)

	_, err := f.svc.Begin(ctx, chatID)
	require.NoError(t, err)
	for _, id := range ids {
		assert.Contains(t, f.notifier.last(id), fmt.Sprintf("/ws/%d?token=tok%d", id, id))
	}

	_, err = f.svc.Hand(ctx, chatID, ids[1])
	require.NoError(t, err)
	assert.Equal(t, "Your hand: [2, 2, 2, 2]\nLive updates: /ws/2?token=tok2", f.notifier.last(ids[1]))
}

func TestHandAndStop(t *testing.T) {
	f := setupService(t, WithGameFactory(sortedDeal))
	ids := f.seatPlayers(t, 4)
	ctx := context.Background()

	_, err := f.svc.Hand(ctx, chatID, ids[0])
	assert.ErrorIs(t, err, ErrNoGame)

	_, err = f.svc.Begin(ctx, chatID)
	require.NoError(t, err)

	hand, err := f.svc.Hand(ctx, chatID, ids[2])
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 3, 3}, hand)
	assert.Equal(t, "Your hand: [3, 3, 3, 3]", f.notifier.last(ids[2]))

	_, err = f.svc.Hand(ctx, chatID, 99)
	assert.ErrorIs(t, err, ErrNotPlayer)

	require.NoError(t, f.svc.Stop(ctx, chatID))
	assert.Equal(t, "Game stopped.", f.notifier.last(chatID))
	assert.ErrorIs(t, f.svc.Stop(ctx, chatID), ErrNoRoom)
}

func TestConcurrentPassesAreSerialized(t *testing.T) {
	f := setupService(t, WithGameFactory(sortedDeal))
	ids := f.seatPlayers(t, 4)
	ctx := context.Background()
	_, err := f.svc.Begin(ctx, chatID)
	require.NoError(t, err)

	// the same move submitted many times at once must apply exactly once
	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.svc.Pass(ctx, chatID, ids[0], 1)
		}()
	}
	wg.Wait()
	close(results)

	applied := 0
	for err := range results {
		if err == nil {
			applied++
		} else {
			assert.ErrorIs(t, err, game.ErrNotYourTurn)
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 0, f.svc.locks.size())
}

func TestErrorTextHidesInternalErrors(t *testing.T) {
	assert.Equal(t, "Something went wrong, please try again.", ErrorText(assert.AnError))
	assert.False(t, IsUserError(assert.AnError))
	assert.True(t, IsUserError(game.ErrCardNotHeld))
}

func TestFormatHand(t *testing.T) {
	assert.Equal(t, "[]", FormatHand(nil))
	assert.Equal(t, "[4, 1]", FormatHand([]int{4, 1}))
}
