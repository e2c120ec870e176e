package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MatchmakingMetrics is implemented by the server's prometheus collector.
type MatchmakingMetrics interface {
	MatchMade(wait time.Duration)
	QueueDepth(n int)
	ActiveRooms(n int)
	SignalRelayed(msgType domain.MessageType)
	UserBanned()
}

type noopMatchmakingMetrics struct{}

func (noopMatchmakingMetrics) MatchMade(time.Duration)          {}
func (noopMatchmakingMetrics) QueueDepth(int)                   {}
func (noopMatchmakingMetrics) ActiveRooms(int)                  {}
func (noopMatchmakingMetrics) SignalRelayed(domain.MessageType) {}
func (noopMatchmakingMetrics) UserBanned()                      {}

// MatchmakingService pairs queued users into rooms and relays negotiation
// messages between the two members of a room. The user whose join completes
// a pair is the initiator; the one that was waiting is the responder.
type MatchmakingService struct {
	lock     ports.Locker
	queue    ports.QueueRepository
	bans     ports.BanRepository
	rooms    ports.RoomRepository
	notifier ports.PeerNotifier
	metrics  MatchmakingMetrics
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewMatchmakingService(
	queue ports.QueueRepository,
	bans ports.BanRepository,
	rooms ports.RoomRepository,
	notifier ports.PeerNotifier,
	metrics MatchmakingMetrics,
	logger *zap.SugaredLogger,
) *MatchmakingService {
	if metrics == nil {
		metrics = noopMatchmakingMetrics{}
	}
	return &MatchmakingService{
		lock:     &localLocker{},
		queue:    queue,
		bans:     bans,
		rooms:    rooms,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// SetLocker replaces the in-process lock, for deployments where several
// servers share one queue.
func (s *MatchmakingService) SetLocker(l ports.Locker) {
	s.lock = l
}

type localLocker struct {
	mu sync.Mutex
}

func (l *localLocker) Lock(ctx context.Context) (func(), error) {
	l.mu.Lock()
	return l.mu.Unlock, nil
}

func newRoomID() domain.RoomID {
	return domain.RoomID("room-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

// CheckBan returns the active ban for user, if any.
func (s *MatchmakingService) CheckBan(ctx context.Context, user domain.UserID) (*domain.BanRecord, error) {
	rec, err := s.bans.Get(ctx, user)
	if err != nil {
		return nil, err
	}
	if !rec.Active(s.now()) {
		return nil, nil
	}
	return rec, nil
}

func (s *MatchmakingService) JoinQueue(ctx context.Context, user *domain.User) error {
	unlock, err := s.lock.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return s.joinQueue(ctx, user)
}

func (s *MatchmakingService) joinQueue(ctx context.Context, user *domain.User) error {
	ban, err := s.CheckBan(ctx, user.ID)
	if err != nil {
		return err
	}
	if ban != nil {
		s.notify(ctx, user.ID, domain.MsgBanned, "", bannedPayload(ban))
		return domain.ErrBanned
	}

	if err := s.leaveRoom(ctx, user.ID, "next"); err != nil {
		return err
	}

	partner, err := s.queue.PopOldest(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("pop queue: %w", err)
	}

	if partner == nil {
		pos, err := s.queue.Enqueue(ctx, domain.QueueEntry{UserID: user.ID, Name: user.DisplayName, JoinedAt: s.now()})
		if err != nil && !errors.Is(err, domain.ErrAlreadyQueued) {
			return fmt.Errorf("enqueue: %w", err)
		}
		s.reportQueue(ctx)
		s.notify(ctx, user.ID, domain.MsgQueueJoined, "", domain.QueueJoinedPayload{
			Position: pos,
			Message:  "Looking for a partner",
		})
		s.logger.Infow("User queued", "user_id", user.ID, "position", pos)
		return nil
	}

	room := &domain.Room{
		ID:        newRoomID(),
		Initiator: user.ID,
		Responder: partner.UserID,
		CreatedAt: s.now(),
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return fmt.Errorf("create room: %w", err)
	}

	s.notify(ctx, partner.UserID, domain.MsgMatchFound, room.ID, domain.MatchFoundPayload{
		RoomID:      room.ID,
		PartnerID:   domain.PartnerID(user.ID),
		PartnerName: user.DisplayName,
		Role:        domain.RoleResponder,
	})
	s.notify(ctx, user.ID, domain.MsgMatchFound, room.ID, domain.MatchFoundPayload{
		RoomID:      room.ID,
		PartnerID:   domain.PartnerID(partner.UserID),
		PartnerName: partner.Name,
		Role:        domain.RoleInitiator,
	})

	s.metrics.MatchMade(s.now().Sub(partner.JoinedAt))
	s.reportQueue(ctx)
	s.reportRooms(ctx)
	s.logger.Infow("Match made",
		"room_id", room.ID,
		"initiator", room.Initiator,
		"responder", room.Responder,
	)
	return nil
}

func (s *MatchmakingService) LeaveQueue(ctx context.Context, user domain.UserID) error {
	unlock, err := s.lock.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.queue.Remove(ctx, user); err != nil {
		return err
	}
	if err := s.leaveRoom(ctx, user, "ended"); err != nil {
		return err
	}
	s.reportQueue(ctx)
	s.notify(ctx, user, domain.MsgQueueLeft, "", nil)
	return nil
}

// NextMatch leaves the current room, if any, and queues the user again.
func (s *MatchmakingService) NextMatch(ctx context.Context, user *domain.User) error {
	unlock, err := s.lock.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.queue.Remove(ctx, user.ID); err != nil {
		return err
	}
	return s.joinQueue(ctx, user)
}

func (s *MatchmakingService) EndChat(ctx context.Context, user domain.UserID) error {
	unlock, err := s.lock.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.queue.Remove(ctx, user); err != nil {
		return err
	}
	if err := s.leaveRoom(ctx, user, "ended"); err != nil {
		return err
	}
	s.reportQueue(ctx)
	s.notify(ctx, user, domain.MsgChatEnded, "", nil)
	return nil
}

// Relay forwards an offer, answer or candidate to the sender's partner.
func (s *MatchmakingService) Relay(ctx context.Context, from domain.UserID, msg domain.Message) error {
	unlock, err := s.lock.Lock(ctx)
	if err != nil {
		return err
	}
	room, err := s.rooms.FindByUser(ctx, from)
	unlock()
	if err != nil {
		return err
	}
	if msg.RoomID != room.ID {
		return fmt.Errorf("%w: %s", domain.ErrNotInRoom, msg.RoomID)
	}
	partner, ok := room.Partner(from)
	if !ok {
		return domain.ErrNotInRoom
	}
	if err := s.notifier.Notify(ctx, partner, msg); err != nil {
		return err
	}
	s.metrics.SignalRelayed(msg.Type)
	return nil
}

// Disconnect cleans up after a user's connection closed.
func (s *MatchmakingService) Disconnect(ctx context.Context, user domain.UserID) error {
	unlock, err := s.lock.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.queue.Remove(ctx, user); err != nil {
		return err
	}
	room, err := s.rooms.FindByUser(ctx, user)
	if errors.Is(err, domain.ErrRoomNotFound) {
		s.reportQueue(ctx)
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.rooms.Delete(ctx, room.ID); err != nil {
		return err
	}
	if partner, ok := room.Partner(user); ok {
		autoRejoin := true
		s.notify(ctx, partner, domain.MsgPartnerDisconnected, room.ID, domain.PartnerDisconnectedPayload{
			Message:    "Your partner disconnected",
			AutoRejoin: &autoRejoin,
		})
	}
	s.reportQueue(ctx)
	s.reportRooms(ctx)
	return nil
}

// Ban records the ban, removes the user from queue and room and tells them.
func (s *MatchmakingService) Ban(ctx context.Context, record domain.BanRecord) error {
	unlock, err := s.lock.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	if err := s.bans.Ban(ctx, record); err != nil {
		return err
	}
	if err := s.queue.Remove(ctx, record.UserID); err != nil {
		return err
	}
	if err := s.leaveRoom(ctx, record.UserID, "ended"); err != nil {
		return err
	}
	s.notify(ctx, record.UserID, domain.MsgBanned, "", bannedPayload(&record))
	s.metrics.UserBanned()
	s.reportQueue(ctx)
	s.logger.Warnw("User banned", "user_id", record.UserID, "reason", record.Reason, "expires_at", record.ExpiresAt)
	return nil
}

// CurrentRoom returns the room user is in, or domain.ErrRoomNotFound.
func (s *MatchmakingService) CurrentRoom(ctx context.Context, user domain.UserID) (*domain.Room, error) {
	return s.rooms.FindByUser(ctx, user)
}

func (s *MatchmakingService) LiftBan(ctx context.Context, user domain.UserID) error {
	return s.bans.Lift(ctx, user)
}

func (s *MatchmakingService) leaveRoom(ctx context.Context, user domain.UserID, reason string) error {
	room, err := s.rooms.FindByUser(ctx, user)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.rooms.Delete(ctx, room.ID); err != nil {
		return err
	}
	if partner, ok := room.Partner(user); ok {
		s.notify(ctx, partner, domain.MsgPartnerLeft, room.ID, domain.PartnerLeftPayload{Reason: reason})
	}
	s.reportRooms(ctx)
	return nil
}

func bannedPayload(b *domain.BanRecord) domain.BannedPayload {
	return domain.BannedPayload{
		Reason:    b.Reason,
		Message:   "You have been banned",
		ExpiresAt: b.ExpiresAt,
	}
}

func (s *MatchmakingService) notify(ctx context.Context, user domain.UserID, t domain.MessageType, room domain.RoomID, payload interface{}) {
	msg, err := domain.NewMessage(t, room, payload)
	if err == nil {
		err = s.notifier.Notify(ctx, user, msg)
	}
	if err != nil {
		s.logger.Debugw("Notification not delivered", "user_id", user, "type", t, "error", err)
	}
}

func (s *MatchmakingService) reportQueue(ctx context.Context) {
	if n, err := s.queue.Len(ctx); err == nil {
		s.metrics.QueueDepth(n)
	}
}

func (s *MatchmakingService) reportRooms(ctx context.Context) {
	if n, err := s.rooms.Count(ctx); err == nil {
		s.metrics.ActiveRooms(n)
	}
}
