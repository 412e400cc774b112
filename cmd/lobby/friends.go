package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/legamerdc/lobbynet"
)

// Friend 是好友列表中的一行：nickname, ip, port。
type Friend struct {
	Nickname string
	Addr     lobbynet.Address
}

var friendsHeader = []string{"nickname", "ip", "port"}

// readFriends 解析好友 CSV，第一行为表头。字段之间允许 ", " 分隔。
func readFriends(r io.Reader) ([]Friend, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = len(friendsHeader)
	cr.Comment = '#'
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("friends: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]Friend, 0, len(rows)-1)
	for i, row := range rows[1:] {
		port, err := strconv.Atoi(strings.TrimSpace(row[2]))
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("friends: line %d: invalid port %q", i+2, row[2])
		}
		out = append(out, Friend{
			Nickname: strings.TrimSpace(row[0]),
			Addr:     lobbynet.Address{Host: strings.TrimSpace(row[1]), Port: port},
		})
	}
	return out, nil
}

func loadFriends(path string) ([]Friend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readFriends(f)
}

// appendFriend 追加一行；文件不存在时先写表头。
func appendFriend(path string, fr Friend) error {
	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, os.ErrNotExist)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if fresh {
		_ = w.Write(friendsHeader)
	}
	_ = w.Write([]string{fr.Nickname, fr.Addr.Host, strconv.Itoa(fr.Addr.Port)})
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func friendsCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "friends",
		Short: "Manage the friends list",
	}
	cmd.PersistentFlags().StringVarP(&file, "file", "f", "friends.csv", "Friends CSV (nickname, ip, port)")

	list := &cobra.Command{
		Use:   "list",
		Short: "Print the friends list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			friends, err := loadFriends(file)
			if err != nil {
				return err
			}
			for _, f := range friends {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", f.Nickname, f.Addr)
			}
			return nil
		},
	}
	add := &cobra.Command{
		Use:   "add <nickname> <ip> <port>",
		Short: "Append a friend",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[2])
			if err != nil || port <= 0 || port > 65535 {
				return fmt.Errorf("invalid port %q", args[2])
			}
			return appendFriend(file, Friend{Nickname: args[0], Addr: lobbynet.Address{Host: args[1], Port: port}})
		},
	}
	cmd.AddCommand(list, add)
	return cmd
}
