package server

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/events"
	"github.com/ButyrinIA/community/internal/models"
	"github.com/ButyrinIA/community/internal/monitoring"
	"github.com/ButyrinIA/community/internal/service"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	streamBuffer = 16
	pingPeriod   = 30 * time.Second
	writeWait    = 10 * time.Second
)

func (s *Server) commentDtos(ctx context.Context, comments []models.Comment) ([]service.CommentDto, error) {
	authorIDs := make([]string, len(comments))
	for i, c := range comments {
		authorIDs[i] = c.Author.ID
	}
	authors, err := loadUsers(ctx, s, authorIDs)
	if err != nil {
		return nil, err
	}

	viewer := currentUserID(ctx)
	dtos := make([]service.CommentDto, len(comments))
	for i, c := range comments {
		dto := service.CommentFromModel(c)
		if u := authors[i]; u != nil {
			dto.Author = shortUser(u)
		}
		if dto.LikesCount, err = s.countRelations(ctx, "target", kindCommentLike+":"+c.ID); err != nil {
			return nil, err
		}
		if dto.IsLiked, err = s.hasRelation(ctx, kindCommentLike, viewer, c.ID); err != nil {
			return nil, err
		}
		dtos[i] = dto
	}
	return dtos, nil
}

// handleListComments отдает комментарии поста от новых к старым
func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	post, err := s.store.GetPost(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	comments := slices.Clone(post.Comments)
	slices.Reverse(comments)

	page, limit := pageParams(r)
	from, to := paginate(len(comments), page, limit)
	dtos, err := s.commentDtos(r.Context(), comments[from:to])
	if err != nil {
		writeError(w, r, err)
		return
	}
	total := max(len(comments), post.CommentsCount)
	writeData(w, service.NewPage(dtos, page, limit, int64(total)))
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req service.CreateCommentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	me := currentUser(ctx)
	input := models.CommentInput{
		Content:  req.Content,
		ParentID: req.ParentID,
		Mentions: req.Mentions,
		Author:   models.Author{ID: me.key(), Nickname: me.Nickname, AvatarURL: me.AvatarURL},
	}
	if err := input.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	post, err := s.store.GetPost(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if input.ParentID != nil {
		exists := slices.ContainsFunc(post.Comments, func(c models.Comment) bool { return c.ID == *input.ParentID })
		if !exists {
			writeError(w, r, apperr.Validation("parent comment %s not found", *input.ParentID))
			return
		}
	}

	comment, err := s.store.AddComment(ctx, post.ID, input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.bus.Publish(events.TopicCommentAdded, *comment)

	s.notify(ctx, post.Author.ID, "comment", me, post.ID, me.Nickname+" 评论了你的帖子")
	for _, mentioned := range comment.Mentions {
		s.notify(ctx, mentioned, "mention", me, post.ID, me.Nickname+" 提到了你")
	}
	log.WithFields(log.Fields{"post_id": post.ID, "comment_id": comment.ID, "user_id": me.key()}).Info("Добавлен комментарий")

	dtos, err := s.commentDtos(ctx, []models.Comment{*comment})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, dtos[0])
}

// handleCommentLike - комментарии встроены в посты, поэтому существование комментария не проверяется
func (s *Server) handleCommentLike(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.setRelation(r.Context(), kindCommentLike, currentUserID(r.Context()), r.PathValue("id"), on); err != nil {
			writeError(w, r, err)
			return
		}
		writeData(w, nil)
	}
}

// handleCommentStream пересылает новые комментарии поста в websocket
func (s *Server) handleCommentStream(w http.ResponseWriter, r *http.Request) {
	postID := r.PathValue("id")
	if _, err := s.store.GetPost(r.Context(), postID); err != nil {
		writeError(w, r, err)
		return
	}

	// подписываемся до рукопожатия, чтобы не потерять комментарии сразу после подключения
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ch := s.bus.Channel(ctx, events.TopicCommentAdded, streamBuffer)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithField("post_id", postID).Warn("Не удалось открыть websocket")
		return
	}
	defer conn.Close()

	monitoring.CommentStreams.Inc()
	defer monitoring.CommentStreams.Dec()

	// читаем только ради обнаружения закрытия соединения клиентом
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	log.WithField("post_id", postID).Debug("Подписка на комментарии открыта")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			comment, ok := ev.Payload.(models.Comment)
			if !ok || comment.PostID != postID {
				continue
			}
			dtos, err := s.commentDtos(ctx, []models.Comment{comment})
			if err != nil {
				log.WithError(err).WithField("post_id", postID).Warn("Не удалось подготовить комментарий")
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(dtos[0]); err != nil {
				log.WithError(err).WithField("post_id", postID).Debug("Клиент отключился")
				return
			}
		}
	}
}
