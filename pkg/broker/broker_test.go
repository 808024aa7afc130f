package broker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/voltaudit/voltaudit/pkg/broker"
)

type taskArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

var _ = Describe("Broker", func() {
	var (
		mr     *miniredis.Miniredis
		client *redis.Client
		b      *broker.Broker
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		b = broker.New(client, logr.Discard())
	})

	AfterEach(func() {
		_ = client.Close()
		mr.Close()
	})

	It("enqueues a decodable job on the ready queue", func() {
		args := taskArgs{TaskID: uuid.New()}
		jobID, err := b.Enqueue(context.Background(), "process_report", args)
		Expect(err).NotTo(HaveOccurred())
		Expect(jobID).NotTo(Equal(uuid.Nil))

		payloads, err := client.LRange(context.Background(), "voltaudit:jobs:process_report", 0, -1).Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(payloads).To(HaveLen(1))

		var job broker.Job
		Expect(json.Unmarshal([]byte(payloads[0]), &job)).To(Succeed())
		Expect(job.ID).To(Equal(jobID))
		Expect(job.Attempt).To(Equal(1))

		var decoded taskArgs
		Expect(json.Unmarshal(job.Args, &decoded)).To(Succeed())
		Expect(decoded.TaskID).To(Equal(args.TaskID))
	})

	It("delivers jobs to the handler", func() {
		var (
			mu       sync.Mutex
			received []broker.Job
		)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = b.Consume(ctx, "process_report", func(_ context.Context, job broker.Job) error {
				mu.Lock()
				received = append(received, job)
				mu.Unlock()
				cancel()
				return nil
			}, func(context.Context, broker.Job, error) {})
		}()

		_, err := b.Enqueue(context.Background(), "process_report", taskArgs{TaskID: uuid.New()})
		Expect(err).NotTo(HaveOccurred())

		Eventually(done, 5*time.Second).Should(BeClosed())
		mu.Lock()
		defer mu.Unlock()
		Expect(received).To(HaveLen(1))
		Expect(received[0].Name).To(Equal("process_report"))
	})

	It("parks a failed job on the delayed set with an incremented attempt", func() {
		failures := make(chan broker.Job, 1)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = b.Consume(ctx, "process_report", func(_ context.Context, job broker.Job) error {
				failures <- job
				return errors.New("transient failure")
			}, func(context.Context, broker.Job, error) {})
		}()

		_, err := b.Enqueue(context.Background(), "process_report", taskArgs{TaskID: uuid.New()})
		Expect(err).NotTo(HaveOccurred())
		Eventually(failures, 5*time.Second).Should(Receive())

		// The job lands on the delayed set with its attempt bumped. It may be
		// promoted and re-parked while we poll, so accept any later attempt.
		Eventually(func() int {
			members, _ := client.ZRange(context.Background(),
				"voltaudit:jobs:process_report:delayed", 0, -1).Result()
			if len(members) != 1 {
				return 0
			}
			var parked broker.Job
			if json.Unmarshal([]byte(members[0]), &parked) != nil {
				return 0
			}
			return parked.Attempt
		}, 2*time.Second, 10*time.Millisecond).Should(BeNumerically(">=", 2))

		cancel()
		Eventually(done, 5*time.Second).Should(BeClosed())
	})

	It("invokes the terminal callback after the attempt budget", func() {
		terminal := make(chan broker.Job, 1)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = b.Consume(ctx, "process_report", func(context.Context, broker.Job) error {
				return errors.New("always fails")
			}, func(_ context.Context, job broker.Job, _ error) {
				terminal <- job
			})
		}()

		// Push a job already on its final attempt.
		job := broker.Job{
			ID:         uuid.New(),
			Name:       "process_report",
			Args:       json.RawMessage(`{}`),
			Attempt:    broker.MaxAttempts,
			EnqueuedAt: time.Now().UTC(),
		}
		payload, err := json.Marshal(job)
		Expect(err).NotTo(HaveOccurred())
		Expect(client.LPush(context.Background(), "voltaudit:jobs:process_report", payload).Err()).To(Succeed())

		Eventually(terminal, 5*time.Second).Should(Receive())
	})

	It("abandons jobs past the age limit without running the handler", func() {
		terminal := make(chan broker.Job, 1)
		handled := make(chan struct{}, 1)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = b.Consume(ctx, "process_report", func(context.Context, broker.Job) error {
				handled <- struct{}{}
				return nil
			}, func(_ context.Context, job broker.Job, _ error) {
				terminal <- job
			})
		}()

		job := broker.Job{
			ID:         uuid.New(),
			Name:       "process_report",
			Args:       json.RawMessage(`{}`),
			Attempt:    1,
			EnqueuedAt: time.Now().UTC().Add(-25 * time.Hour),
		}
		payload, err := json.Marshal(job)
		Expect(err).NotTo(HaveOccurred())
		Expect(client.LPush(context.Background(), "voltaudit:jobs:process_report", payload).Err()).To(Succeed())

		Eventually(terminal, 5*time.Second).Should(Receive())
		Consistently(handled, 200*time.Millisecond).ShouldNot(Receive())
	})

	It("promotes due retries back onto the ready queue", func() {
		delivered := make(chan broker.Job, 1)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan struct{})

		// Park a job whose ready time has already passed.
		job := broker.Job{
			ID:         uuid.New(),
			Name:       "process_report",
			Args:       json.RawMessage(`{}`),
			Attempt:    2,
			EnqueuedAt: time.Now().UTC(),
		}
		payload, err := json.Marshal(job)
		Expect(err).NotTo(HaveOccurred())
		Expect(client.ZAdd(context.Background(), "voltaudit:jobs:process_report:delayed", redis.Z{
			Score:  float64(time.Now().Add(-time.Second).UnixMilli()),
			Member: payload,
		}).Err()).To(Succeed())

		go func() {
			defer close(done)
			_ = b.Consume(ctx, "process_report", func(_ context.Context, j broker.Job) error {
				delivered <- j
				return nil
			}, func(context.Context, broker.Job, error) {})
		}()

		var promoted broker.Job
		Eventually(delivered, 5*time.Second).Should(Receive(&promoted))
		Expect(promoted.ID).To(Equal(job.ID))
		Expect(promoted.Attempt).To(Equal(2))
	})
})

var _ = Describe("Backoff", func() {
	It("starts at one second and doubles to the five minute cap", func() {
		Expect(broker.Backoff(1)).To(Equal(1 * time.Second))
		Expect(broker.Backoff(2)).To(Equal(2 * time.Second))
		Expect(broker.Backoff(3)).To(Equal(4 * time.Second))
		Expect(broker.Backoff(9)).To(Equal(4 * time.Minute + 16*time.Second))
		Expect(broker.Backoff(10)).To(Equal(5 * time.Minute))
		Expect(broker.Backoff(40)).To(Equal(5 * time.Minute))
	})
})
