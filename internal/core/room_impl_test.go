package core

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinSendsStateAndAnnouncesNewcomer(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	a := f.join(t, "A", domain.RoleMember)

	var st domain.RoomState
	a.last(t, EvRoomStateUpdate, &st)
	require.Len(t, st.Members, 1)
	assert.Equal(t, domain.UserID("A"), st.Members[0].ID)
	assert.Len(t, st.StageSlots, 10)

	b := f.join(t, "B", domain.RoleMember)
	var joined domain.MemberView
	a.last(t, EvUserJoined, &joined)
	assert.Equal(t, domain.UserID("B"), joined.ID)
	assert.Zero(t, b.count(EvUserJoined))

	b.last(t, EvRoomStateUpdate, &st)
	assert.Len(t, st.Members, 2)
}

func TestRejoinIsRefresh(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	a := f.join(t, "A", domain.RoleMember)
	b := f.join(t, "B", domain.RoleMember)
	b.reset()

	again := &recConn{}
	_, err := f.room.Join("sid-A2", ident("A", domain.RoleMember), again)
	require.NoError(t, err)

	assert.Equal(t, 2, f.room.MemberCount())
	assert.Zero(t, b.count(EvUserJoined))
	assert.Equal(t, 1, again.count(EvRoomStateUpdate))

	// the stale session no longer owns the membership
	left, _ := f.room.Leave("A", "sid-A")
	assert.False(t, left)
	left, _ = f.room.Leave("A", "sid-A2")
	assert.True(t, left)
	_ = a
}

func TestMicLowestFreeSlot(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	f.join(t, "A", domain.RoleMember)
	f.join(t, "B", domain.RoleMember)
	f.join(t, "C", domain.RoleMember)

	slot, err := f.room.AcquireMic("A")
	require.NoError(t, err)
	assert.Equal(t, 1, slot)
	slot, err = f.room.AcquireMic("B")
	require.NoError(t, err)
	assert.Equal(t, 2, slot)

	require.True(t, f.room.ReleaseMic("A"))
	assert.False(t, f.room.ReleaseMic("A"))

	slot, err = f.room.AcquireMic("C")
	require.NoError(t, err)
	assert.Equal(t, 1, slot)

	m, ok := f.room.Member("C")
	require.True(t, ok)
	require.NotNil(t, m.MicIndex)
	assert.Equal(t, 1, *m.MicIndex)
	assert.True(t, m.IsOnStage)
}

func TestConcurrentAcquireMicHandsOutDistinctSlots(t *testing.T) {
	const slots, users = 4, 10
	f := newFixture(t, RoomOptions{StageSlots: slots})
	for i := 0; i < users; i++ {
		f.join(t, fmt.Sprintf("u%d", i), domain.RoleMember)
	}

	var (
		mu     sync.Mutex
		won    = map[int]domain.UserID{}
		failed int
		wg     sync.WaitGroup
	)
	start := make(chan struct{})
	for i := 0; i < users; i++ {
		uid := domain.UserID(fmt.Sprintf("u%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			slot, err := f.room.AcquireMic(uid)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrUnavailable)
				failed++
				return
			}
			_, dup := won[slot]
			assert.False(t, dup, "slot %d handed out twice", slot)
			won[slot] = uid
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, users-slots, failed)
	got := make([]int, 0, len(won))
	for slot := range won {
		got = append(got, slot)
	}
	sort.Ints(got)
	assert.Equal(t, []int{1, 2, 3, 4}, got)

	st := f.room.Snapshot()
	for slot, uid := range won {
		assert.Equal(t, uid, st.StageSlots[slot-1])
	}
}

func TestMicRejectionOrder(t *testing.T) {
	f := newFixture(t, RoomOptions{StageSlots: 1})
	f.join(t, "mod", domain.RoleModerator)
	noMic := ident("quiet", domain.RoleMember)
	noMic.CanMicAscent = false
	f.joinIdent(t, noMic)
	f.join(t, "A", domain.RoleMember)
	f.join(t, "B", domain.RoleMember)

	require.NoError(t, f.room.SetMicLock("mod", true))
	_, err := f.room.AcquireMic("quiet")
	require.ErrorIs(t, err, domain.ErrForbidden)
	assert.Contains(t, err.Error(), "locked")

	_, err = f.room.AcquireMic("A")
	require.ErrorIs(t, err, domain.ErrForbidden)

	slot, err := f.room.AcquireMic("mod")
	require.NoError(t, err)
	assert.Equal(t, 1, slot)

	require.NoError(t, f.room.SetMicLock("mod", false))
	_, err = f.room.AcquireMic("quiet")
	require.ErrorIs(t, err, domain.ErrForbidden)
	assert.Contains(t, err.Error(), "disabled")

	_, err = f.room.AcquireMic("mod")
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.room.AcquireMic("A")
	require.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestMicLockRequiresStaff(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	a := f.join(t, "A", domain.RoleMember)
	require.ErrorIs(t, f.room.SetMicLock("A", true), domain.ErrForbidden)
	assert.Zero(t, a.count(EvMicLockUpdate))

	f.join(t, "admin", domain.RoleAdmin)
	require.NoError(t, f.room.SetMicLock("admin", true))
	var locked bool
	a.last(t, EvMicLockUpdate, &locked)
	assert.True(t, locked)
	v, ok := f.persist.find("room", "R1", "micLock")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestTransferMic(t *testing.T) {
	f := newFixture(t, RoomOptions{StageSlots: 3})
	f.join(t, "mod", domain.RoleModerator)
	f.join(t, "A", domain.RoleMember)
	f.join(t, "B", domain.RoleMember)

	_, err := f.room.AcquireMic("A")
	require.NoError(t, err)

	require.ErrorIs(t, f.room.TransferMic("B", "B", 3), domain.ErrForbidden)
	require.ErrorIs(t, f.room.TransferMic("mod", "B", 1), domain.ErrConflict)
	require.ErrorIs(t, f.room.TransferMic("mod", "B", 7), domain.ErrNotFound)

	require.NoError(t, f.room.TransferMic("mod", "B", 3))
	require.NoError(t, f.room.TransferMic("mod", "A", 2))

	st := f.room.Snapshot()
	assert.Equal(t, []domain.UserID{"", "A", "B"}, st.StageSlots)
	m, _ := f.room.Member("A")
	assert.Equal(t, 2, *m.MicIndex)
}

func TestMutedChatIsForbiddenUntilUnmuted(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	f.join(t, "mod", domain.RoleModerator)
	f.join(t, "A", domain.RoleMember)

	_, err := f.room.Moderate("mod", "A", domain.ActionMute)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = f.room.Chat("A", "hello")
		require.ErrorIs(t, err, domain.ErrForbidden)
	}
	_, err = f.room.Moderate("mod", "A", domain.ActionMute)
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.room.Moderate("mod", "A", domain.ActionUnmute)
	require.NoError(t, err)
	msg, err := f.room.Chat("A", "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, domain.MessageChat, msg.Type)
}

func TestChatGrantsXP(t *testing.T) {
	f := newFixture(t, RoomOptions{XPPerChat: 2})
	f.join(t, "A", domain.RoleMember)
	_, err := f.room.Chat("A", "one")
	require.NoError(t, err)
	_, err = f.room.Chat("A", "two")
	require.NoError(t, err)

	m, _ := f.room.Member("A")
	assert.EqualValues(t, 4, m.XP)
	v, ok := f.persist.find("profile", "A", "xp")
	require.True(t, ok)
	assert.EqualValues(t, 4, v)
}

func TestChatValidation(t *testing.T) {
	f := newFixture(t, RoomOptions{ChatMaxLen: 5})
	f.join(t, "A", domain.RoleMember)
	_, err := f.room.Chat("A", "   ")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.room.Chat("A", "toolong")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.room.Chat("ghost", "hi")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHistoryEvictsOldest(t *testing.T) {
	f := newFixture(t, RoomOptions{HistorySize: 50})
	f.join(t, "A", domain.RoleMember)
	for i := 1; i <= 51; i++ {
		_, err := f.room.Chat("A", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	h := f.room.Snapshot().ChatHistory
	require.Len(t, h, 50)
	assert.Equal(t, "m2", h[0].Text)
	assert.Equal(t, "m51", h[49].Text)
}

func TestModerationByMemberIsForbiddenAndSilent(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	admin := f.join(t, "admin", domain.RoleAdmin)
	member := f.join(t, "member", domain.RoleMember)
	admin.reset()
	member.reset()

	_, err := f.room.Moderate("member", "admin", domain.ActionKick)
	require.ErrorIs(t, err, domain.ErrForbidden)

	assert.Equal(t, 2, f.room.MemberCount())
	assert.Empty(t, admin.types())
	assert.Empty(t, member.types())
	assert.Empty(t, f.room.Snapshot().ChatHistory)
}

func TestModeratorCannotTargetStaff(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	f.join(t, "mod", domain.RoleModerator)
	f.join(t, "mod2", domain.RoleModerator)
	f.join(t, "A", domain.RoleMember)

	_, err := f.room.Moderate("mod", "mod2", domain.ActionMute)
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.room.Moderate("mod", "A", domain.ActionBan)
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.room.Moderate("mod", "mod", domain.ActionKick)
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.room.Moderate("mod", "nobody", domain.ActionKick)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBanRemovesMemberAndFlagsProfile(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	f.join(t, "admin", domain.RoleAdmin)
	x := f.join(t, "X", domain.RoleMember)
	other := f.join(t, "O", domain.RoleMember)
	_, err := f.room.AcquireMic("X")
	require.NoError(t, err)
	other.reset()

	out, err := f.room.Moderate("admin", "X", domain.ActionBan)
	require.NoError(t, err)
	assert.True(t, out.Result.Success)
	require.NotNil(t, out.Removed)
	assert.True(t, out.Removed.Banned)
	assert.Equal(t, SessionID("sid-X"), out.Removed.Session)

	var term TerminalPayload
	x.last(t, EvBannedFromApp, &term)
	assert.NotEmpty(t, term.Reason)
	assert.Zero(t, x.count(EvKickedFromRoom))

	var left UserLeftPayload
	other.last(t, EvUserLeft, &left)
	assert.Equal(t, domain.UserID("X"), left.UserID)

	var msg domain.Message
	other.last(t, EvChatMessage, &msg)
	assert.Equal(t, domain.MessageSystem, msg.Type)

	st := f.room.Snapshot()
	assert.Len(t, st.Members, 2)
	assert.NotContains(t, st.StageSlots, domain.UserID("X"))

	v, ok := f.persist.find("profile", "X", "isBanned")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestKickSendsRoomScopedNotice(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	f.join(t, "mod", domain.RoleModerator)
	x := f.join(t, "X", domain.RoleMember)

	out, err := f.room.Moderate("mod", "X", domain.ActionKick)
	require.NoError(t, err)
	require.NotNil(t, out.Removed)
	assert.False(t, out.Removed.Banned)
	assert.Equal(t, 1, x.count(EvKickedFromRoom))
	assert.Zero(t, x.count(EvBannedFromApp))
	_, ok := f.persist.find("profile", "X", "isBanned")
	assert.False(t, ok)
}

func TestRemovingSlotHolderBroadcastsStateOnce(t *testing.T) {
	for _, action := range []domain.ModerationAction{domain.ActionKick, domain.ActionBan} {
		t.Run(string(action), func(t *testing.T) {
			f := newFixture(t, RoomOptions{})
			f.join(t, "admin", domain.RoleAdmin)
			watcher := f.join(t, "W", domain.RoleMember)
			f.join(t, "X", domain.RoleMember)
			_, err := f.room.AcquireMic("X")
			require.NoError(t, err)
			watcher.reset()

			_, err = f.room.Moderate("admin", "X", action)
			require.NoError(t, err)
			assert.Equal(t, 1, watcher.count(EvRoomStateUpdate))
			assert.Equal(t, 1, watcher.count(EvUserLeft))
		})
	}
}

func TestAssignAndRemoveModerator(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	f.join(t, "admin", domain.RoleAdmin)
	f.join(t, "mod", domain.RoleModerator)
	f.join(t, "A", domain.RoleMember)

	_, err := f.room.Moderate("mod", "A", domain.ActionAssignModerator)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.room.Moderate("admin", "A", domain.ActionAssignModerator)
	require.NoError(t, err)
	m, _ := f.room.Member("A")
	assert.Equal(t, domain.RoleModerator, m.Role)
	assert.Contains(t, f.room.Snapshot().Moderators, domain.UserID("A"))

	_, err = f.room.Moderate("admin", "A", domain.ActionAssignModerator)
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.room.Moderate("admin", "A", domain.ActionRemoveModerator)
	require.NoError(t, err)
	m, _ = f.room.Member("A")
	assert.Equal(t, domain.RoleMember, m.Role)
	v, ok := f.persist.find("room", "R1", "moderators")
	require.True(t, ok)
	assert.Empty(t, v)
}

func TestMuteAllSkipsActorAndStaff(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	f.join(t, "mod", domain.RoleModerator)
	f.join(t, "admin", domain.RoleAdmin)
	f.join(t, "A", domain.RoleMember)
	f.join(t, "G", domain.RoleGuest)

	_, err := f.room.Moderate("mod", "", domain.ActionMuteAll)
	require.NoError(t, err)
	for id, muted := range map[domain.UserID]bool{"mod": false, "admin": false, "A": true, "G": true} {
		m, _ := f.room.Member(id)
		assert.Equal(t, muted, m.IsMuted, id)
	}
}

func TestModeratorsFromConfigGetRole(t *testing.T) {
	cfg := domain.DefaultRoomConfig("R9")
	cfg.Moderators = []domain.UserID{"A"}
	room := NewRoomService(cfg, RoomOptions{})
	_, err := room.Join("s", ident("A", domain.RoleMember), &recConn{})
	require.NoError(t, err)
	m, _ := room.Member("A")
	assert.Equal(t, domain.RoleModerator, m.Role)
}

func TestLeaveIsIdempotentAndTearsDown(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	f.join(t, "A", domain.RoleMember)
	b := f.join(t, "B", domain.RoleMember)
	b.reset()

	left, empty := f.room.Leave("A", "")
	assert.True(t, left)
	assert.False(t, empty)
	left, _ = f.room.Leave("A", "")
	assert.False(t, left)
	assert.Equal(t, 1, b.count(EvUserLeft))

	left, empty = f.room.Leave("B", "")
	assert.True(t, left)
	assert.True(t, empty)

	_, err := f.room.Join("s", ident("C", domain.RoleMember), &recConn{})
	require.ErrorIs(t, err, ErrRoomClosed)
}

func TestLeaveReleasesSlotAndBroadcastsState(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	f.join(t, "A", domain.RoleMember)
	b := f.join(t, "B", domain.RoleMember)
	_, err := f.room.AcquireMic("A")
	require.NoError(t, err)
	b.reset()

	f.room.Leave("A", "")
	assert.Equal(t, []string{EvUserLeft, EvRoomStateUpdate}, b.types())
	var st domain.RoomState
	b.last(t, EvRoomStateUpdate, &st)
	assert.Equal(t, domain.UserID(""), st.StageSlots[0])
}

func TestSpeakingBroadcastsTransitionsOnly(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	f.join(t, "A", domain.RoleMember)
	b := f.join(t, "B", domain.RoleMember)
	b.reset()

	require.NoError(t, f.room.SetSpeaking("A", true))
	require.NoError(t, f.room.SetSpeaking("A", true))
	require.NoError(t, f.room.SetSpeaking("A", false))
	assert.Equal(t, 2, b.count(EvSpeakingStatus))

	var st SpeakingStatusPayload
	b.last(t, EvSpeakingStatus, &st)
	assert.False(t, st.IsSpeaking)
}

func TestMicActiveNotifiesOthers(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	a := f.join(t, "A", domain.RoleMember)
	b := f.join(t, "B", domain.RoleMember)
	a.reset()

	require.NoError(t, f.room.SetMicActive("A", true))
	assert.Zero(t, a.count(EvMicStatus))
	var ms MicStatusPayload
	b.last(t, EvMicStatus, &ms)
	assert.Equal(t, MicStatusPayload{UserID: "A", Active: true}, ms)
}

func TestPrivateMessageReachesTwoClients(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	a := f.join(t, "A", domain.RoleMember)
	b := f.join(t, "B", domain.RoleMember)
	c := f.join(t, "C", domain.RoleMember)

	_, err := f.room.Private("A", "B", "psst")
	require.NoError(t, err)
	assert.Equal(t, 1, a.count(EvPrivateMessage))
	assert.Equal(t, 1, b.count(EvPrivateMessage))
	assert.Zero(t, c.count(EvPrivateMessage))
	assert.Empty(t, f.room.Snapshot().ChatHistory)
}

func TestGiftUpdatesCounters(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	f.join(t, "A", domain.RoleMember)
	f.join(t, "B", domain.RoleMember)

	_, err := f.room.SendGift("A", "A", domain.Gift{Name: "rose", Value: 5})
	require.ErrorIs(t, err, domain.ErrConflict)
	_, err = f.room.SendGift("A", "B", domain.Gift{Name: "rose"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	msg, err := f.room.SendGift("A", "B", domain.Gift{Name: "rose", Value: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageGift, msg.Type)

	a, _ := f.room.Member("A")
	b, _ := f.room.Member("B")
	assert.EqualValues(t, 5, a.XP)
	assert.EqualValues(t, 1, b.GiftsReceived)
}

func TestSettingsArePrivileged(t *testing.T) {
	f := newFixture(t, RoomOptions{})
	f.join(t, "mod", domain.RoleModerator)
	f.join(t, "A", domain.RoleMember)

	pin := "welcome"
	require.ErrorIs(t, f.room.SetPinned("A", &pin), domain.ErrForbidden)
	require.NoError(t, f.room.SetPinned("mod", &pin))
	require.NoError(t, f.room.SetBackground("mod", "space"))
	require.NoError(t, f.room.SetMusic("mod", "lofi"))
	_, err := f.room.Announce("A", "hi")
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.room.Announce("mod", "hi all")
	require.NoError(t, err)

	st := f.room.Snapshot()
	require.NotNil(t, st.PinnedMessage)
	assert.Equal(t, "welcome", *st.PinnedMessage)
	assert.Equal(t, "space", st.Background)
	assert.Equal(t, "lofi", st.Music)

	require.NoError(t, f.room.SetPinned("mod", nil))
	assert.Nil(t, f.room.Snapshot().PinnedMessage)
}

func TestBackpressureIsReported(t *testing.T) {
	var reported []SessionID
	f := newFixture(t, RoomOptions{OnBackpressure: func(_ domain.RoomID, sid SessionID) {
		reported = append(reported, sid)
	}})
	f.join(t, "A", domain.RoleMember)
	slow := f.join(t, "B", domain.RoleMember)
	slow.full = true

	_, err := f.room.Chat("A", "hi")
	require.NoError(t, err)
	assert.Equal(t, []SessionID{"sid-B"}, reported)
}

func TestStageConsistencyUnderRandomOps(t *testing.T) {
	f := newFixture(t, RoomOptions{StageSlots: 4})
	f.join(t, "mod", domain.RoleAdmin)
	rng := rand.New(rand.NewSource(7))
	users := []string{"u1", "u2", "u3", "u4", "u5", "u6"}

	for i := 0; i < 500; i++ {
		u := users[rng.Intn(len(users))]
		uid := domain.UserID(u)
		switch rng.Intn(6) {
		case 0:
			_, _ = f.room.Join(SessionID(u), ident(u, domain.RoleMember), &recConn{})
		case 1:
			f.room.Leave(uid, "")
		case 2:
			_, _ = f.room.AcquireMic(uid)
		case 3:
			f.room.ReleaseMic(uid)
		case 4:
			_ = f.room.TransferMic("mod", uid, 1+rng.Intn(4))
		case 5:
			_, _ = f.room.Moderate("mod", uid, domain.ActionKick)
		}

		st := f.room.Snapshot()
		members := map[domain.UserID]domain.MemberView{}
		for _, m := range st.Members {
			members[m.ID] = m
		}
		seen := map[domain.UserID]bool{}
		for idx, id := range st.StageSlots {
			if id == "" {
				continue
			}
			require.False(t, seen[id], "duplicate %s", id)
			seen[id] = true
			m, ok := members[id]
			require.True(t, ok, "slot holder %s not a member", id)
			require.NotNil(t, m.MicIndex)
			require.Equal(t, idx+1, *m.MicIndex)
		}
		for id, m := range members {
			require.Equal(t, seen[id], m.IsOnStage, id)
		}
	}
}

func TestAllocationIsDeterministic(t *testing.T) {
	run := func() []domain.UserID {
		f := newFixture(t, RoomOptions{StageSlots: 5})
		for _, u := range []string{"a", "b", "c", "d"} {
			f.join(t, u, domain.RoleMember)
			_, err := f.room.AcquireMic(domain.UserID(u))
			require.NoError(t, err)
		}
		f.room.ReleaseMic("b")
		f.room.ReleaseMic("a")
		_, _ = f.room.AcquireMic("b")
		return f.room.Snapshot().StageSlots
	}
	first := run()
	assert.Equal(t, []domain.UserID{"b", "", "c", "d", ""}, first)
	assert.Equal(t, first, run())
}
