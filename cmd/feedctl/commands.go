package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/feed"
	"github.com/ButyrinIA/community/internal/models"
	"github.com/ButyrinIA/community/internal/service"
)

func newFlags(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

func printPosts(a *app, posts []*models.Post) {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tАВТОР\tЛАЙКИ\tКОММ.\tТЕКСТ")
	for _, p := range posts {
		text := p.Title
		if text == "" {
			text = p.Content
		}
		marks := ""
		if p.IsLiked {
			marks += "♥"
		}
		if p.Type == models.TypeVideo {
			marks += "▶"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d%s\t%d\t%s\n", p.ID, p.Author.Nickname, p.Likes, marks, p.CommentsCount, excerpt(text, 40))
	}
	tw.Flush()
}

func requireLogin(a *app) error {
	if !a.session.IsAuthenticated() {
		return fmt.Errorf("%w: run feedctl login first", apperr.ErrUnauthorized)
	}
	return nil
}

func runRestore(ctx context.Context, a *app, args []string) error {
	fmt.Fprintf(a.out, "Сессия: %s\n", a.session.State())
	if u := a.session.User(); u != nil {
		fmt.Fprintf(a.out, "Пользователь: %s (id %s)\n", u.Nickname, u.ID)
	}
	return nil
}

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "login")
	phone := fs.String("phone", "", "номер телефона")
	code := fs.String("code", "", "код из SMS")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *code == "" {
		if err := a.svc.Auth.SendSMSCode(ctx, *phone); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Код отправлен")
		return nil
	}
	user, err := a.session.LoginWithSMS(ctx, *phone, *code)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Вход выполнен: %s (id %s)\n", user.Nickname, user.ID)
	return nil
}

func runLogout(ctx context.Context, a *app, args []string) error {
	a.session.Logout(ctx)
	fmt.Fprintln(a.out, "Сессия завершена")
	return nil
}

func runFeed(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "feed")
	page := fs.Int("page", 1, "страница, с единицы")
	limit := fs.Int("limit", models.DefaultPageSize, "постов на странице")
	tag := fs.String("tag", "", "фильтр по тегу")
	search := fs.String("search", "", "поиск по заголовку и тексту")
	typ := fs.String("type", models.TypeAll, "all, article или video")
	following := fs.Bool("following", false, "только подписки")
	if err := fs.Parse(args); err != nil {
		return err
	}

	params := models.ListParams{Page: *page, Limit: *limit, Tag: *tag, Search: *search, Type: *typ}
	if *following {
		params.FeedType = models.FeedFollowing
	}
	res, err := a.feed.Load(ctx, params)
	if err != nil {
		return err
	}
	printFeed(a, res)
	return nil
}

func printFeed(a *app, res *feed.Page) {
	if res.Offline {
		fmt.Fprintln(a.out, res.Notice)
	}
	printPosts(a, res.Posts)
	if res.HasMore {
		fmt.Fprintln(a.out, "Есть еще посты")
	}
}

func runTags(ctx context.Context, a *app, args []string) error {
	fmt.Fprintln(a.out, strings.Join(a.feed.Tags(ctx), " "))
	return nil
}

func runProfile(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "profile")
	authors := fs.String("author", "", "id или имена авторов через запятую")
	if err := fs.Parse(args); err != nil {
		return err
	}
	names := splitList(*authors)
	if len(names) == 0 {
		return apperr.Validation("author is required")
	}
	posts, err := a.feed.Profile(ctx, names...)
	if err != nil {
		return err
	}
	printPosts(a, posts)
	return nil
}

func runPost(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "post")
	title := fs.String("title", "", "заголовок")
	content := fs.String("content", "", "текст")
	tags := fs.String("tags", "", "теги через запятую")
	images := fs.String("images", "", "файлы изображений через запятую")
	video := fs.String("video", "", "видеофайл")
	if err := fs.Parse(args); err != nil {
		return err
	}

	input := models.PostInput{
		Title:     *title,
		Content:   *content,
		Tags:      splitList(*tags),
		MediaURLs: splitList(*images),
		Author:    a.author(),
	}
	if a.remote() {
		if err := requireLogin(a); err != nil {
			return err
		}
		urls, err := uploadImages(ctx, a, input.MediaURLs)
		if err != nil {
			return err
		}
		input.MediaURLs = urls
	}
	if *video != "" {
		if err := attachVideo(ctx, a, &input, *video); err != nil {
			return err
		}
	}
	post, err := a.store.CreatePost(ctx, input)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Опубликовано: %s\n", post.ID)
	return nil
}

func openFile(path string) (service.File, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return service.File{}, nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return service.File{}, nil, err
	}
	return service.File{Name: filepath.Base(path), Content: f, Size: st.Size()}, f.Close, nil
}

func uploadImages(ctx context.Context, a *app, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	files := make([]service.File, 0, len(paths))
	for _, path := range paths {
		file, closeFn, err := openFile(path)
		if err != nil {
			return nil, err
		}
		defer closeFn()
		files = append(files, file)
	}
	return a.svc.Upload.Images(ctx, files)
}

// attachVideo загружает видео и ждет окончания обработки. Без удаленного
// хранилища путь к файлу записывается в пост как есть.
func attachVideo(ctx context.Context, a *app, input *models.PostInput, path string) error {
	input.Type = models.TypeVideo
	if !a.remote() {
		input.VideoURL = path
		return nil
	}

	file, closeFn, err := openFile(path)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := a.svc.Upload.Video(ctx, file, func(pct int) {
		if pct%10 == 0 {
			fmt.Fprintf(a.out, "Загрузка видео: %d%%\n", pct)
		}
	})
	if err != nil {
		return err
	}
	st, err := a.svc.Upload.WaitForVideoProcessing(ctx, res.UploadID, service.PollOptions{
		MaxAttempts: a.cfg.Upload.PollAttempts,
		Interval:    a.cfg.Upload.PollInterval,
	})
	if err != nil {
		return err
	}
	input.VideoURL = st.URL
	if input.VideoURL == "" {
		input.VideoURL = res.URL
	}
	input.VideoPoster = st.Poster
	return nil
}

func runLike(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "like")
	id := fs.String("id", "", "id поста")
	favorite := fs.Bool("favorite", false, "переключить избранное вместо лайка")
	if err := fs.Parse(args); err != nil {
		return err
	}
	post, err := a.store.GetPost(ctx, *id)
	if err != nil {
		return err
	}

	ctrl := a.controller(post, false)
	var res fmt.Stringer
	if *favorite {
		res = ctrl.ToggleFavorite(ctx)
	} else {
		res = ctrl.ToggleLike(ctx)
	}
	st := ctrl.State()
	fmt.Fprintf(a.out, "%s: лайков %d, в избранном %d\n", res, st.Likes, st.Favorites)
	return nil
}

func runFollow(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "follow")
	id := fs.String("id", "", "id поста, на автора которого подписаться")
	undo := fs.Bool("undo", false, "отписаться")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireLogin(a); err != nil {
		return err
	}
	post, err := a.store.GetPost(ctx, *id)
	if err != nil {
		return err
	}

	ctrl := a.controller(post, *undo)
	res := ctrl.ToggleFollow(ctx)
	fmt.Fprintf(a.out, "%s: подписка на %s - %t\n", res, post.Author.Nickname, ctrl.State().Following)
	return nil
}

func runComment(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "comment")
	id := fs.String("id", "", "id поста")
	text := fs.String("text", "", "текст комментария")
	parent := fs.String("parent", "", "id родительского комментария")
	mentions := fs.String("mentions", "", "id упомянутых пользователей через запятую")
	if err := fs.Parse(args); err != nil {
		return err
	}
	post, err := a.store.GetPost(ctx, *id)
	if err != nil {
		return err
	}

	var parentID *string
	if *parent != "" {
		parentID = parent
	}
	ctrl := a.controller(post, false)
	ctrl.SetDraft(*text)
	res := ctrl.SubmitComment(ctx, parentID, splitList(*mentions))
	fmt.Fprintf(a.out, "%s: комментариев %d\n", res, ctrl.State().CommentsCount)
	return nil
}

func runWatch(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "watch")
	id := fs.String("id", "", "id поста")
	dur := fs.Duration("for", 0, "сколько следить; 0 - до прерывания")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dur > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *dur)
		defer cancel()
	}

	stream, err := a.svc.Comments.Subscribe(ctx, *id)
	if err != nil {
		return err
	}
	for c := range stream {
		fmt.Fprintf(a.out, "[%s] %s: %s\n", c.CreatedAt.Format(time.TimeOnly), c.Author.Nickname, c.Content)
	}
	return nil
}

func runWaitVideo(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "wait-video")
	id := fs.String("id", "", "id загрузки")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := a.svc.Upload.WaitForVideoProcessing(ctx, *id, service.PollOptions{
		MaxAttempts: a.cfg.Upload.PollAttempts,
		Interval:    a.cfg.Upload.PollInterval,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Видео готово: %s\n", st.URL)
	return nil
}
