package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/localdb"
	"github.com/ButyrinIA/community/internal/service"
	log "github.com/sirupsen/logrus"
)

const (
	kindLike        = "like"
	kindFavorite    = "favorite"
	kindFollow      = "follow"
	kindBlock       = "block"
	kindCommentLike = "commentLike"
)

// userRecord - пользователь в коллекции users; username совпадает с телефоном
type userRecord struct {
	ID        int64  `json:"id,omitempty"`
	Username  string `json:"username"`
	Phone     string `json:"phone"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Bio       string `json:"bio,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

func (u *userRecord) key() string {
	return strconv.FormatInt(u.ID, 10)
}

// relationRecord - отметка пользователя о цели: лайк, избранное, подписка, блокировка.
// target и owner - составные значения для индексов вида "kind:id".
type relationRecord struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	UserID    string `json:"userId"`
	TargetID  string `json:"targetId"`
	Target    string `json:"target"`
	Owner     string `json:"owner"`
	CreatedAt int64  `json:"createdAt"`
}

func relationID(kind, userID, targetID string) string {
	return kind + ":" + userID + ":" + targetID
}

func parseUserID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("user %q: %w", id, apperr.ErrNotFound)
	}
	return n, nil
}

func (s *Server) loadUser(ctx context.Context, id string) (*userRecord, error) {
	key, err := parseUserID(id)
	if err != nil {
		return nil, err
	}
	var u userRecord
	if err := s.db.Get(ctx, localdb.CollectionUsers, key, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// userDto собирает профиль со счетчиками; телефон отдается только владельцу
func (s *Server) userDto(ctx context.Context, u *userRecord, self bool) (service.UserDto, error) {
	id := u.key()
	posts, err := s.store.ListPostsByAuthor(ctx, id)
	if err != nil {
		return service.UserDto{}, err
	}
	followers, err := s.countRelations(ctx, "target", kindFollow+":"+id)
	if err != nil {
		return service.UserDto{}, err
	}
	following, err := s.countRelations(ctx, "owner", kindFollow+":"+id)
	if err != nil {
		return service.UserDto{}, err
	}
	dto := service.UserDto{
		ID:             id,
		Nickname:       u.Nickname,
		AvatarURL:      u.AvatarURL,
		Bio:            u.Bio,
		PostsCount:     len(posts),
		FollowersCount: followers,
		FollowingCount: following,
	}
	if self {
		dto.Phone = u.Phone
	}
	return dto, nil
}

// shortUser - профиль без счетчиков для списков
func shortUser(u *userRecord) service.UserDto {
	return service.UserDto{ID: u.key(), Nickname: u.Nickname, AvatarURL: u.AvatarURL, Bio: u.Bio}
}

func (s *Server) scanRelations(ctx context.Context, index, value string) ([]relationRecord, error) {
	cur := s.db.ScanByIndex(ctx, CollectionRelations, index, localdb.ScanOptions{
		Direction: localdb.Descending,
		Only:      value,
	})
	defer cur.Close()

	var out []relationRecord
	for cur.Next() {
		var rel relationRecord
		if err := cur.Decode(&rel); err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, cur.Err()
}

func (s *Server) countRelations(ctx context.Context, index, value string) (int, error) {
	cur := s.db.ScanByIndex(ctx, CollectionRelations, index, localdb.ScanOptions{Only: value})
	defer cur.Close()

	n := 0
	for cur.Next() {
		n++
	}
	return n, cur.Err()
}

func (s *Server) hasRelation(ctx context.Context, kind, userID, targetID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	var rel relationRecord
	err := s.db.Get(ctx, CollectionRelations, relationID(kind, userID, targetID), &rel)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// setRelation ставит или снимает отметку; changed=false, если состояние уже такое
func (s *Server) setRelation(ctx context.Context, kind, userID, targetID string, on bool) (bool, error) {
	id := relationID(kind, userID, targetID)
	if !on {
		err := s.db.Delete(ctx, CollectionRelations, id)
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}

	_, err := s.db.Add(ctx, CollectionRelations, relationRecord{
		ID:        id,
		Kind:      kind,
		UserID:    userID,
		TargetID:  targetID,
		Target:    kind + ":" + targetID,
		Owner:     kind + ":" + userID,
		CreatedAt: s.now().UnixMilli(),
	})
	if errors.Is(err, apperr.ErrConstraint) {
		return false, nil
	}
	return err == nil, err
}

func (s *Server) blockedBetween(ctx context.Context, a, b string) (bool, error) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		blocked, err := s.hasRelation(ctx, kindBlock, pair[0], pair[1])
		if err != nil || blocked {
			return blocked, err
		}
	}
	return false, nil
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.loadUser(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	dto, err := s.userDto(r.Context(), user, user.key() == currentUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, dto)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateProfileRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	me := currentUser(r.Context())
	updated, err := localdb.Update(r.Context(), s.db, localdb.CollectionUsers, me.ID, func(u *userRecord) error {
		if req.Nickname != nil {
			u.Nickname = *req.Nickname
		}
		if req.AvatarURL != nil {
			u.AvatarURL = *req.AvatarURL
		}
		if req.Bio != nil {
			u.Bio = *req.Bio
		}
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	dto, err := s.userDto(r.Context(), updated, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, dto)
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	query := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if query == "" {
		writeError(w, r, apperr.Validation("search query is required"))
		return
	}
	page, limit := pageParams(r)

	cur := s.db.ScanByIndex(r.Context(), localdb.CollectionUsers, "", localdb.ScanOptions{
		Filter: func(rec *localdb.Record) bool {
			nickname, _ := rec.Field("nickname")
			name, _ := nickname.(string)
			return strings.Contains(strings.ToLower(name), query)
		},
	})
	var found []service.UserDto
	for cur.Next() {
		var u userRecord
		if err := cur.Decode(&u); err != nil {
			cur.Close()
			writeError(w, r, err)
			return
		}
		found = append(found, shortUser(&u))
	}
	cur.Close()
	if err := cur.Err(); err != nil {
		writeError(w, r, err)
		return
	}

	from, to := paginate(len(found), page, limit)
	writeData(w, service.NewPage(found[from:to], page, limit, int64(len(found))))
}

func (s *Server) handleUserPosts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.loadUser(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	posts, err := s.store.ListPostsByAuthor(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, limit := pageParams(r)
	from, to := paginate(len(posts), page, limit)
	dtos, err := s.postDtos(r.Context(), posts[from:to])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, service.NewPage(dtos, page, limit, int64(len(posts))))
}

func (s *Server) handleMyFavorites(w http.ResponseWriter, r *http.Request) {
	rels, err := s.scanRelations(r.Context(), "owner", kindFavorite+":"+currentUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, limit := pageParams(r)
	from, to := paginate(len(rels), page, limit)

	var dtos []service.PostDto
	for _, rel := range rels[from:to] {
		post, err := s.store.GetPost(r.Context(), rel.TargetID)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		dto, err := s.postDto(r.Context(), post)
		if err != nil {
			writeError(w, r, err)
			return
		}
		dtos = append(dtos, dto)
	}
	writeData(w, service.NewPage(dtos, page, limit, int64(len(rels))))
}

// handleFollowList отдает подписчиков (followers=true) или подписки пользователя
func (s *Server) handleFollowList(followers bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, err := s.loadUser(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}

		index := "owner"
		if followers {
			index = "target"
		}
		rels, err := s.scanRelations(r.Context(), index, kindFollow+":"+id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		page, limit := pageParams(r)
		from, to := paginate(len(rels), page, limit)

		ids := make([]string, 0, to-from)
		for _, rel := range rels[from:to] {
			if followers {
				ids = append(ids, rel.UserID)
			} else {
				ids = append(ids, rel.TargetID)
			}
		}
		users, err := loadUsers(r.Context(), s, ids)
		if err != nil {
			writeError(w, r, err)
			return
		}
		dtos := make([]service.UserDto, 0, len(users))
		for _, u := range users {
			if u != nil {
				dtos = append(dtos, shortUser(u))
			}
		}
		writeData(w, service.NewPage(dtos, page, limit, int64(len(rels))))
	}
}

// handleFollow ставит или снимает подписку (kindFollow) и блокировку (kindBlock)
func (s *Server) handleFollow(kind string, on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := currentUser(r.Context())
		targetID := r.PathValue("id")
		if targetID == me.key() {
			writeError(w, r, apperr.Validation("cannot %s yourself", kind))
			return
		}
		if _, err := s.loadUser(r.Context(), targetID); err != nil {
			writeError(w, r, err)
			return
		}

		if on && kind == kindFollow {
			blocked, err := s.blockedBetween(r.Context(), me.key(), targetID)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if blocked {
				writeError(w, r, apperr.Validation("user is blocked"))
				return
			}
		}

		changed, err := s.setRelation(r.Context(), kind, me.key(), targetID, on)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if on && kind == kindBlock {
			// блокировка снимает подписки в обе стороны
			for _, pair := range [][2]string{{me.key(), targetID}, {targetID, me.key()}} {
				if _, err := s.setRelation(r.Context(), kindFollow, pair[0], pair[1], false); err != nil {
					writeError(w, r, err)
					return
				}
			}
		}
		if changed && on && kind == kindFollow {
			s.notify(r.Context(), targetID, "follow", me, me.key(), me.Nickname+" 关注了你")
		}

		log.WithFields(log.Fields{
			"kind":    kind,
			"on":      on,
			"user_id": me.key(),
			"target":  targetID,
			"changed": changed,
		}).Debug("Отношение обновлено")
		writeData(w, nil)
	}
}
