/*
Copyright 2024 Fundi Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fundihq/fundi/config"
	"github.com/fundihq/fundi/internal/request"
)

// PushPayload is one outbound push dispatch to a set of users. ExcludeUUID
// drops the acting user from the recipient list; delivery is best effort and
// failures are logged, never retried.
type PushPayload struct {
	UserUUIDs   []string        `json:"user_uuids"`
	ExcludeUUID string          `json:"exclude_uuid,omitempty"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Recipients returns the user list with the excluded actor removed.
func (p *PushPayload) Recipients() []string {
	if p.ExcludeUUID == "" {
		return p.UserUUIDs
	}
	out := make([]string, 0, len(p.UserUUIDs))
	for _, u := range p.UserUUIDs {
		if u != p.ExcludeUUID {
			out = append(out, u)
		}
	}
	return out
}

// SendPush posts the payload to the configured push provider. An empty
// recipient list or an unconfigured provider is a silent no-op.
func SendPush(ctx context.Context, payload *PushPayload) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Push.Url == "" {
		return nil
	}

	recipients := payload.Recipients()
	if len(recipients) == 0 {
		return nil
	}

	body, err := request.ToJsonReq(map[string]interface{}{
		"user_uuids": recipients,
		"title":      payload.Title,
		"body":       payload.Body,
		"data":       payload.Data,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Notification.Push.Url, body)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Push.Headers {
		req.Header.Set(key, value)
	}

	var response map[string]interface{}
	if _, err := request.Call(req, &response); err != nil {
		logrus.Warnf("push dispatch failed: %v", err)
	}
	return nil
}

// SlackNotification sends an error message to the configured Slack webhook.
func SlackNotification(err error) {
	data := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Error From Fundi",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Error:*\n%v"
					}
				]
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Time:*\n%v"
					}
				]
			}
		]
	}`, err.Error(), time.Now().Format(time.RFC822)))

	conf, err := config.Fetch()
	if err != nil {
		log.Println(err)
		return
	}

	payload, err := request.ToJsonReq(&data)
	if err != nil {
		log.Println(err)
		return
	}

	req, err := http.NewRequest("POST", conf.Notification.Slack.WebhookUrl, payload)
	if err != nil {
		log.Println(err)
		return
	}

	var response map[string]interface{}
	_, err = request.Call(req, &response)
	if err != nil {
		log.Println(err)
	}
}

// NotifyError logs an error and forwards it to Slack when configured. Runs
// asynchronously to avoid blocking the caller.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			log.Println(err)
			return
		}

		if conf.Notification.Slack.WebhookUrl != "" {
			SlackNotification(systemError)
		}
	}(systemError)
}
