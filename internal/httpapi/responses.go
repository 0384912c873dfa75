package httpapi

import (
	"time"

	"github.com/ycchat/ycchat/internal/auth"
	"github.com/ycchat/ycchat/internal/channel"
	"github.com/ycchat/ycchat/internal/message"
	"github.com/ycchat/ycchat/internal/paging"
	"github.com/ycchat/ycchat/internal/server"
	"github.com/ycchat/ycchat/internal/user"
)

type sessionResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresAt    string  `json:"expires_at"`
	UserID       user.ID `json:"user_id"`
	Username     string  `json:"username,omitempty"`
}

func newSessionResponse(s auth.Session, username string) sessionResponse {
	return sessionResponse{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt.UTC().Format(timeLayout),
		UserID:       s.UserID,
		Username:     username,
	}
}

type userResponse struct {
	Name       string  `json:"name"`
	ID         user.ID `json:"id"`
	Username   string  `json:"username"`
	CreateTime string  `json:"create_time"`
}

func newUserResponse(u user.User) userResponse {
	return userResponse{
		Name:       "users/" + string(u.ID),
		ID:         u.ID,
		Username:   u.Username,
		CreateTime: u.CreatedAt.UTC().Format(timeLayout),
	}
}

// pageInfo carries the cursor fields shared by every list response. Empty
// tokens are left out.
type pageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	PrevPageToken string `json:"prev_page_token,omitempty"`
	TotalSize     *int64 `json:"total_size,omitempty"`
}

func newPageInfo(next, prev string, total *int64) pageInfo {
	return pageInfo{NextPageToken: next, PrevPageToken: prev, TotalSize: total}
}

type serverResponse struct {
	Name        string    `json:"name"`
	ID          server.ID `json:"id"`
	Owner       user.ID   `json:"owner"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	CreateTime  string    `json:"create_time"`
}

func newServerResponse(s server.Server) serverResponse {
	return serverResponse{
		Name:        s.Name(),
		ID:          s.ID,
		Owner:       s.OwnerID,
		DisplayName: s.DisplayName,
		Description: s.Description,
		CreateTime:  s.CreatedAt.UTC().Format(timeLayout),
	}
}

type serverListResponse struct {
	Servers []serverResponse `json:"servers"`
	pageInfo
}

type memberResponse struct {
	Name        string          `json:"name"`
	ID          server.MemberID `json:"id"`
	Server      string          `json:"server"`
	User        user.ID         `json:"user"`
	DisplayName string          `json:"display_name"`
	Description string          `json:"description,omitempty"`
	CreateTime  string          `json:"create_time"`
}

func newMemberResponse(m server.Member) memberResponse {
	return memberResponse{
		Name:        m.Name(),
		ID:          m.ID,
		Server:      server.Server{ID: m.ServerID}.Name(),
		User:        m.UserID,
		DisplayName: m.DisplayName,
		Description: m.Description,
		CreateTime:  m.CreatedAt.UTC().Format(timeLayout),
	}
}

type memberListResponse struct {
	Members []memberResponse `json:"members"`
	pageInfo
}

type channelResponse struct {
	Name         string     `json:"name"`
	ID           channel.ID `json:"id"`
	Type         string     `json:"type"`
	Owner        user.ID    `json:"owner,omitempty"`
	Participants []user.ID  `json:"participants,omitempty"`
	Server       string     `json:"server,omitempty"`
	DisplayName  string     `json:"display_name"`
	Description  string     `json:"description,omitempty"`
	CreateTime   string     `json:"create_time"`
	UnreadCount  *int64     `json:"unread_count,omitempty"`
}

func newChannelResponse(ch channel.Channel) channelResponse {
	resp := channelResponse{
		Name:        ch.Name(),
		ID:          ch.ID,
		DisplayName: ch.DisplayName,
		Description: ch.Description,
		CreateTime:  ch.CreatedAt.UTC().Format(timeLayout),
		UnreadCount: ch.UnreadCount,
	}
	switch a := ch.Audience.(type) {
	case channel.Saved:
		resp.Type = channel.KindSaved
		resp.Owner = a.Owner
	case channel.Direct:
		resp.Type = channel.KindDirect
		resp.Participants = []user.ID{a.Participants[0], a.Participants[1]}
	case channel.ServerAudience:
		resp.Type = channel.KindServer
		resp.Server = server.Server{ID: a.Server}.Name()
	}
	return resp
}

type channelListResponse struct {
	Channels []channelResponse `json:"channels"`
	pageInfo
}

func newChannelListResponse(page paging.Page[channel.Channel]) channelListResponse {
	resp := channelListResponse{
		Channels: make([]channelResponse, 0, len(page.Items)),
		pageInfo: newPageInfo(page.NextPageToken, page.PrevPageToken, page.TotalSize),
	}
	for _, ch := range page.Items {
		resp.Channels = append(resp.Channels, newChannelResponse(ch))
	}
	return resp
}

type messageResponse struct {
	Name       string     `json:"name"`
	ID         message.ID `json:"id"`
	Author     user.ID    `json:"author"`
	Channel    string     `json:"channel"`
	Content    string     `json:"content"`
	CreateTime string     `json:"create_time"`
	UpdateTime string     `json:"update_time,omitempty"`
}

func newMessageResponse(m message.Message) messageResponse {
	resp := messageResponse{
		Name:       m.Name(),
		ID:         m.ID,
		Author:     m.Author,
		Channel:    channel.Channel{ID: m.Channel}.Name(),
		Content:    m.Content,
		CreateTime: formatTime(m.CreateTime),
	}
	if m.UpdateTime != nil {
		resp.UpdateTime = formatTime(*m.UpdateTime)
	}
	return resp
}

type messageListResponse struct {
	Messages []messageResponse `json:"messages"`
	pageInfo
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
