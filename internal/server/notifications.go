package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/localdb"
	"github.com/ButyrinIA/community/internal/service"
	log "github.com/sirupsen/logrus"
)

type notificationRecord struct {
	ID        int64  `json:"id,omitempty"`
	UserID    string `json:"userId"`
	Type      string `json:"type"`
	ActorID   string `json:"actorId,omitempty"`
	RelatedID string `json:"relatedId,omitempty"`
	Content   string `json:"content"`
	IsRead    bool   `json:"isRead"`
	CreatedAt int64  `json:"createdAt"`
}

// notify пишет уведомление получателю. Ошибка записи не прерывает основную операцию.
func (s *Server) notify(ctx context.Context, userID, typ string, actor *userRecord, relatedID, content string) {
	if userID == "" || (actor != nil && actor.key() == userID) {
		return
	}
	if _, err := parseUserID(userID); err != nil {
		return
	}
	rec := notificationRecord{
		UserID:    userID,
		Type:      typ,
		RelatedID: relatedID,
		Content:   content,
		CreatedAt: s.now().UnixMilli(),
	}
	if actor != nil {
		rec.ActorID = actor.key()
	}
	if _, err := s.db.Add(ctx, CollectionNotifications, rec); err != nil {
		log.WithError(err).WithFields(log.Fields{"user_id": userID, "type": typ}).Warn("Не удалось сохранить уведомление")
	}
}

func (s *Server) userNotifications(ctx context.Context, userID string) ([]notificationRecord, error) {
	cur := s.db.ScanByIndex(ctx, CollectionNotifications, "userId", localdb.ScanOptions{
		Direction: localdb.Descending,
		Only:      userID,
	})
	defer cur.Close()

	var out []notificationRecord
	for cur.Next() {
		var n notificationRecord
		if err := cur.Decode(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, cur.Err()
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := s.userNotifications(r.Context(), currentUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	total := len(list)
	page, limit := pageParams(r)
	from, to := paginate(total, page, limit)
	list = list[from:to]

	actorIDs := make([]string, len(list))
	for i, n := range list {
		actorIDs[i] = n.ActorID
	}
	actors, err := loadUsers(r.Context(), s, actorIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	dtos := make([]service.NotificationDto, len(list))
	for i, n := range list {
		dtos[i] = service.NotificationDto{
			ID:        strconv.FormatInt(n.ID, 10),
			Type:      n.Type,
			RelatedID: n.RelatedID,
			Content:   n.Content,
			IsRead:    n.IsRead,
			CreatedAt: service.Timestamp{Time: time.UnixMilli(n.CreatedAt)},
		}
		if a := actors[i]; a != nil {
			actor := shortUser(a)
			dtos[i].Actor = &actor
		}
	}
	writeData(w, service.NewPage(dtos, page, limit, int64(total)))
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	list, err := s.userNotifications(r.Context(), currentUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	unread := 0
	for _, n := range list {
		if !n.IsRead {
			unread++
		}
	}
	writeData(w, map[string]int{"count": unread})
}

func (s *Server) markRead(ctx context.Context, userID string, id int64) error {
	_, err := localdb.Update(ctx, s.db, CollectionNotifications, id, func(n *notificationRecord) error {
		if n.UserID != userID {
			return apperr.ErrNotFound
		}
		n.IsRead = true
		return nil
	})
	return err
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, apperr.ErrNotFound)
		return
	}
	if err := s.markRead(r.Context(), currentUserID(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, nil)
}

func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r.Context())
	list, err := s.userNotifications(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for _, n := range list {
		if n.IsRead {
			continue
		}
		if err := s.markRead(r.Context(), userID, n.ID); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeData(w, nil)
}
