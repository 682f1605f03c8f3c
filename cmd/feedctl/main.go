// Команда feedctl - консольный клиент ленты: сессия, лента, публикация, лайки и комментарии.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/ButyrinIA/community/internal/config"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"restore":    {"показать восстановленную сессию", runRestore},
	"login":      {"-phone N [-code C] - запросить код или войти по коду", runLogin},
	"logout":     {"выйти и очистить сессию", runLogout},
	"feed":       {"[-page N -limit N -tag T -search S -type T -following] - лента", runFeed},
	"tags":       {"популярные теги", runTags},
	"profile":    {"-author A[,B] - посты авторов", runProfile},
	"post":       {"-content C [-title T -tags a,b -images f1,f2 -video f] - опубликовать", runPost},
	"like":       {"-id ID [-favorite] - переключить лайк или избранное", runLike},
	"follow":     {"-id ID [-undo] - подписаться на автора поста", runFollow},
	"comment":    {"-id ID -text T [-parent P -mentions a,b] - комментировать", runComment},
	"watch":      {"-id ID [-for D] - следить за новыми комментариями", runWatch},
	"wait-video": {"-id UPLOAD - дождаться обработки видео", runWaitVideo},
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Использование: feedctl [-config путь] <команда> [флаги]")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-11s %s\n", name, commands[name].usage)
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Usage = func() { usage(os.Stderr) }
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Не удалось прочитать .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Не удалось загрузить конфигурацию: %v", err)
	}
	cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout, flag.Args()); err != nil {
		stop()
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

// run выполняет одну команду. Сессия восстанавливается перед любой командой,
// чтобы запросы шли с сохраненным токеном.
func run(ctx context.Context, cfg *config.Config, out io.Writer, args []string) error {
	if len(args) == 0 {
		usage(out)
		return flag.ErrHelp
	}
	cmd, ok := commands[args[0]]
	if !ok {
		usage(out)
		return fmt.Errorf("unknown command %q", args[0])
	}

	a, err := newApp(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer a.Close()

	a.session.Restore(ctx)
	return cmd.run(ctx, a, args[1:])
}
