// Package oauth implements GitHub sign-in on top of golang.org/x/oauth2.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	ProviderGitHub = "github"
	githubAPIBase  = "https://api.github.com"
)

var ErrNoVerifiedEmail = errors.New("github account has no verified email")

// Profile is the subset of the GitHub user used to link accounts.
type Profile struct {
	AccountID   string
	Login       string
	Name        string
	Email       string
	AvatarURL   string
	AccessToken string
	Scope       string
}

type GitHub struct {
	conf    *oauth2.Config
	apiBase string
}

func NewGitHub(clientID, clientSecret, redirectURL string) *GitHub {
	return &GitHub{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
		},
		apiBase: githubAPIBase,
	}
}

func (g *GitHub) AuthCodeURL(state string) string {
	return g.conf.AuthCodeURL(state)
}

// Exchange trades the callback code for a token and loads the profile.
func (g *GitHub) Exchange(ctx context.Context, code string) (Profile, error) {
	token, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("exchange code: %w", err)
	}
	client := g.conf.Client(ctx, token)

	var user struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := getJSON(ctx, client, g.apiBase+"/user", &user); err != nil {
		return Profile{}, err
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSON(ctx, client, g.apiBase+"/user/emails", &emails); err != nil {
		return Profile{}, err
	}

	email := ""
	for _, e := range emails {
		if e.Verified && (e.Primary || email == "") {
			email = e.Email
		}
	}
	if email == "" {
		return Profile{}, ErrNoVerifiedEmail
	}

	name := strings.TrimSpace(user.Name)
	if name == "" {
		name = user.Login
	}
	scope, _ := token.Extra("scope").(string)

	return Profile{
		AccountID:   strconv.FormatInt(user.ID, 10),
		Login:       user.Login,
		Name:        name,
		Email:       strings.ToLower(email),
		AvatarURL:   user.AvatarURL,
		AccessToken: token.AccessToken,
		Scope:       scope,
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("github %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode github response: %w", err)
	}
	return nil
}
