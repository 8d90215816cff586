/*
Copyright 2025 Caterly Authors.

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

// Package redlock provides a single-instance redis lock used to keep
// scheduled jobs, like the stale-order sweep, from running on more than one
// worker at a time. The holder token ensures only the worker that took the
// lock can release it; a lock abandoned by a crashed worker frees itself
// when its TTL lapses.
package redlock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Locker struct {
	client redis.UniversalClient
	key    string
	token  string // identifies the holder; release and extend check it
}

func NewLocker(client redis.UniversalClient, key, token string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		token:  token,
	}
}

// Lock takes the lock for at most timeout. It fails immediately when another
// holder has the key; scheduled jobs treat that as "already running
// elsewhere" and skip the run rather than wait.
func (l *Locker) Lock(ctx context.Context, timeout time.Duration) error {
	success, err := l.client.SetNX(ctx, l.key, l.token, timeout).Result()
	if err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("lock for key %s is already held", l.key)
	}
	return nil
}

// Unlock releases the lock only while this locker's token still holds it, so
// a worker that overran its TTL cannot release a successor's lock.
func (l *Locker) Unlock(ctx context.Context) error {
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	result, err := l.client.Eval(ctx, script, []string{l.key}, l.token).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock failed, either lock expired or you're not the lock holder for key %s", l.key)
	}
	return nil
}
