package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/localdb"
	"github.com/graph-gophers/dataloader/v7"
)

const loadersContextKey contextKey = "loaders"

type userLoader = dataloader.Loader[string, *userRecord]

// newUserLoader собирает обращения к пользователям за запрос в одно чтение GetMany
func (s *Server) newUserLoader() *userLoader {
	return dataloader.NewBatchedLoader(
		func(ctx context.Context, keys []string) []*dataloader.Result[*userRecord] {
			results := make([]*dataloader.Result[*userRecord], len(keys))
			dbKeys := make([]any, 0, len(keys))
			pos := make([]int, 0, len(keys))
			for i, key := range keys {
				id, err := parseUserID(key)
				if err != nil {
					results[i] = &dataloader.Result[*userRecord]{Error: err}
					continue
				}
				dbKeys = append(dbKeys, id)
				pos = append(pos, i)
			}

			users, err := localdb.GetMany[userRecord](ctx, s.db, localdb.CollectionUsers, dbKeys)
			for j, i := range pos {
				switch {
				case err != nil:
					results[i] = &dataloader.Result[*userRecord]{Error: err}
				case users[j] == nil:
					results[i] = &dataloader.Result[*userRecord]{Error: fmt.Errorf("user %s: %w", keys[i], apperr.ErrNotFound)}
				default:
					results[i] = &dataloader.Result[*userRecord]{Data: users[j]}
				}
			}
			return results
		},
		dataloader.WithWait[string, *userRecord](time.Millisecond),
	)
}

func (s *Server) withLoaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), loadersContextKey, s.newUserLoader())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loaderFor(ctx context.Context, s *Server) *userLoader {
	if l, ok := ctx.Value(loadersContextKey).(*userLoader); ok {
		return l
	}
	return s.newUserLoader()
}

// loadUsers возвращает пользователей в порядке ids; для неизвестных id - nil
func loadUsers(ctx context.Context, s *Server, ids []string) ([]*userRecord, error) {
	loader := loaderFor(ctx, s)
	thunks := make([]dataloader.Thunk[*userRecord], len(ids))
	for i, id := range ids {
		thunks[i] = loader.Load(ctx, id)
	}

	users := make([]*userRecord, len(ids))
	for i, thunk := range thunks {
		u, err := thunk()
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		users[i] = u
	}
	return users, nil
}
