package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"xiaole-web/internal/app/models"
	"xiaole-web/internal/app/services"
)

// ChatCommand 终端聊天客户端
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Chat with 小乐 in the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Resume an existing session `ID`",
			},
			&cli.BoolFlag{
				Name:  "instant",
				Usage: "Voice mode: show replies at once without the typing animation",
			},
			&cli.StringFlag{
				Name:  "style",
				Usage: "Response style, e.g. balanced",
			},
			&cli.BoolFlag{
				Name:  "no-push",
				Usage: "Do not open the push channel",
			},
		},
		Action: runChat,
	}
}

func runChat(c *cli.Context) error {
	out := c.App.Writer
	observer := services.ConversationObserver{
		OnChange: func(m models.Message) {
			if m.Role == models.RoleAssistant && m.Status == models.StatusDone {
				fmt.Fprintf(out, "小乐> %s\n", m.Content)
			}
		},
		OnSessionAssigned: func(s models.Session) {
			log.WithField("session", s.ID).Infof("new session: %s", s.Title)
		},
	}

	client, err := services.NewClient(nil, observer)
	if err != nil {
		return err
	}
	client.API.OnUnauthorized = func() {
		fmt.Fprintln(out, "⚠️ 登录已失效")
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client.Health.OnChange(func(online bool) {
		if !online {
			fmt.Fprintln(out, "⚠️ 后端不可达")
		}
	})
	client.Health.Start(ctx)
	defer client.Health.Stop()

	if !c.Bool("no-push") {
		unsubscribe := client.Channel.Subscribe(func(ev models.PushEvent) {
			fmt.Fprintf(out, "[推送] %s\n", ev.Raw)
		})
		defer unsubscribe()
		// 连接失败会在后台重连，不影响聊天
		_ = client.Channel.Connect(ctx)
		defer client.Channel.Disconnect()
	}

	if id := c.String("session"); id != "" {
		if err := client.Dispatcher.LoadSession(ctx, models.ID(id)); err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		for _, m := range client.Conversation.Messages() {
			fmt.Fprintf(out, "%s> %s\n", m.Role, m.Content)
		}
	}

	opts := services.SendOptions{Instant: c.Bool("instant"), ResponseStyle: c.String("style")}
	fmt.Fprintln(out, "输入消息回车发送；/image <path> <text> 发送图片；/sessions 会话列表；/new 新会话；/quit 退出")
	// 信号只停止当前轮次，请求本身用不随信号取消的 ctx
	return chatLoop(ctx, c.Context, client, opts, os.Stdin, out)
}

// chatLoop ctx 结束时先停止进行中的轮次再退出；turnCtx 用于发送请求
func chatLoop(ctx, turnCtx context.Context, client *services.Client, opts services.SendOptions, in io.Reader, out io.Writer) error {
	stopTurn := context.AfterFunc(ctx, client.Conversation.Stop)
	defer stopTurn()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/new":
			client.Conversation.Clear()
			continue
		case line == "/sessions":
			if err := client.RefreshSessions(turnCtx); err != nil {
				log.WithError(err).Error("list sessions failed")
			}
			for _, s := range client.Sessions() {
				fmt.Fprintf(out, "%s  %s (%d)\n", s.SessionID, s.Title, s.MessageCount)
			}
			continue
		case strings.HasPrefix(line, "/image "):
			if err := sendImage(turnCtx, client, strings.TrimPrefix(line, "/image "), opts); err != nil {
				log.WithError(err).Error("send image failed")
			}
			continue
		}

		err := client.Dispatcher.Send(turnCtx, line, "", opts)
		var turnErr *models.TurnError
		if err != nil && !errors.As(err, &turnErr) {
			return err
		}
	}
}

func sendImage(ctx context.Context, client *services.Client, args string, opts services.SendOptions) error {
	path, text, _ := strings.Cut(args, " ")
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return client.Dispatcher.SendImage(ctx, text, filepath.Base(path), f, opts)
}
