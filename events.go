/*
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
package saldo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/saldo-finance/saldo/config"

	"github.com/hibiken/asynq"
)

// NewEvent represents an outbound event notification sent to the configured
// downstream endpoint. It includes an event name and associated payload.
type NewEvent struct {
	Event   string      `json:"event"` // The event name that triggered the notification.
	Payload interface{} `json:"data"`  // The data associated with the event.
}

// processHTTP delivers one event notification via HTTP POST.
func processHTTP(data NewEvent) error {
	conf, err := config.Fetch()
	if err != nil {
		log.Println("Error fetching config:", err)
		return err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Println("Error marshaling data:", err)
		return err
	}
	payload := bytes.NewBuffer(jsonData)

	req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, payload)
	if err != nil {
		log.Println("Error creating request:", err)
		return err
	}

	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		log.Println("Error sending request:", err)
		return err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	// Check if the status code is not in the 2XX success range
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Event notification failed with status code: %d\n", resp.StatusCode)
		return nil
	}

	log.Println("Event notification sent:", data.Event)
	return nil
}

// SendEvent enqueues an outbound event notification task. With no downstream
// endpoint configured this is a no-op, so callers fire events
// unconditionally.
func SendEvent(event string, payload interface{}) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: conf.Redis.Dns})
	defer func() {
		_ = client.Close()
	}()
	body, err := json.Marshal(NewEvent{Event: event, Payload: payload})
	if err != nil {
		log.Println("Error marshaling event:", err)
		return err
	}
	taskOptions := []asynq.Option{asynq.Queue(conf.Queue.EventQueue)}
	task := asynq.NewTask(conf.Queue.EventQueue, body, taskOptions...)
	info, err := client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return err
}

// ProcessEvent processes an outbound event notification task from the queue.
func ProcessEvent(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}
	var payload NewEvent
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	log.Printf("Processing event notification: %+v\n", payload.Event)
	err = processHTTP(payload)
	if err != nil {
		return err
	}
	return nil
}
