package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/wotrack_backend/config"
	"github.com/mmdatafocus/wotrack_backend/models"
)

// Full-stack: MySQL + Redis in docker, exercising the gorm repository and definition store.
func TestGormRepository_TransitionCommitsOrderAndAudit(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}
	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })
	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "wotrack_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	defs := models.NewGormProcessDefinitionStore(db)
	if err := models.SeedProcessDefinitions(ctx, defs, []models.ProcessDefinition{validDefinition()}); err != nil {
		t.Fatalf("SeedProcessDefinitions: %v", err)
	}
	def, err := defs.Get(ctx, "CT")
	if err != nil || len(def.Steps) != 5 {
		t.Fatalf("Get definition=%+v err=%v", def, err)
	}
	// second read is served from the cache
	if _, err := defs.Get(ctx, "CT"); err != nil {
		t.Fatalf("cached Get: %v", err)
	}
	if _, err := defs.Get(ctx, "missing"); !errors.Is(err, models.ErrNoProcessDefinition) {
		t.Fatalf("missing definition err=%v", err)
	}

	repo := models.NewGormRepository(db)
	order := newTestOrder("6000785969")
	if err := repo.CreateOrder(ctx, order); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if err := repo.CreateOrder(ctx, newTestOrder("6000785969")); !errors.Is(err, models.ErrDuplicateOrder) {
		t.Fatalf("duplicate create err=%v", err)
	}

	err = repo.Transaction(ctx, func(tx models.Repository) error {
		cur, err := tx.FindOrder(ctx, order.Key())
		if err != nil {
			return err
		}
		cur.StepStatuses.Set("Assembly", models.StepStatusHold)
		if err := tx.UpdateOrder(ctx, cur); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &models.AuditLogEntry{
			ProductId:     "CT",
			WoId:          "6000785969",
			Step:          "Assembly",
			Action:        "Hold",
			NewRawValue:   "Hold",
			ActorId:       "u1",
			Timestamp:     time.Now(),
			OrderSnapshot: cur.Snapshot(),
		})
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	got, err := repo.FindOrder(ctx, order.Key())
	if err != nil {
		t.Fatalf("FindOrder: %v", err)
	}
	if got.StepStatuses.StatusOf("Assembly").State != models.StepStateHold {
		t.Fatalf("Assembly=%s", got.StepStatuses.StatusOf("Assembly"))
	}

	entries, err := repo.QueryByOrder(ctx, order.Key())
	if err != nil || len(entries) != 1 {
		t.Fatalf("QueryByOrder=%d err=%v", len(entries), err)
	}
	if err := db.Model(entries[0]).Update("step", "Cut").Error; !errors.Is(err, models.ErrAuditImmutable) {
		t.Fatalf("audit update err=%v", err)
	}

	rollback := errors.New("rollback")
	_ = repo.Transaction(ctx, func(tx models.Repository) error {
		cur, _ := tx.FindOrder(ctx, order.Key())
		cur.StepStatuses.Set("Assembly", models.StepStatusPending)
		_ = tx.UpdateOrder(ctx, cur)
		return rollback
	})
	got, _ = repo.FindOrder(ctx, order.Key())
	if got.StepStatuses.StatusOf("Assembly").State != models.StepStateHold {
		t.Fatalf("rolled back update was persisted")
	}

	// rewriting identical values inside a transaction changes no row and is not a miss
	err = repo.Transaction(ctx, func(tx models.Repository) error {
		cur, err := tx.FindOrder(ctx, order.Key())
		if err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, cur); err != nil {
			return err
		}
		return tx.UpdateOrder(ctx, cur)
	})
	if err != nil {
		t.Fatalf("unchanged update in transaction: %v", err)
	}
	stamped := got.Clone()
	stamped.UpdatedAt = time.Date(2024, time.March, 12, 14, 5, 0, 0, time.UTC)
	if err := repo.UpdateOrder(ctx, stamped); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if got, _ = repo.FindOrder(ctx, order.Key()); !got.UpdatedAt.Equal(stamped.UpdatedAt) {
		t.Fatalf("UpdatedAt=%s, want %s", got.UpdatedAt, stamped.UpdatedAt)
	}
	var notFound *models.OrderNotFoundError
	if err := repo.UpdateOrder(ctx, newTestOrder("missing")); !errors.As(err, &notFound) {
		t.Fatalf("update of missing order err=%v", err)
	}

	for _, c := range []*models.Comment{
		{ProductId: "CT", WoId: "6000785969", Step: "Cut", Category: models.CommentGeneral, Content: "note", ActorId: "u1", CreatedAt: time.Now()},
		{ProductId: "CT", WoId: "6000785969", Step: "QC", Category: models.CommentQualityIssue, Content: "out of tolerance",
			StructuredData: models.DetailFields{"category": "QUALITY_ISSUE"}, TriggeredStatus: "QN", ActorId: "u1", CreatedAt: time.Now()},
	} {
		if err := repo.AppendComment(ctx, c); err != nil {
			t.Fatalf("AppendComment: %v", err)
		}
	}
	comments, err := repo.QueryComments(ctx, order.Key())
	if err != nil || len(comments) != 2 {
		t.Fatalf("QueryComments=%d err=%v", len(comments), err)
	}
	issues, err := repo.QueryIssueComments(ctx, "CT")
	if err != nil || len(issues) != 1 || issues[0].StructuredData["category"] != "QUALITY_ISSUE" {
		t.Fatalf("QueryIssueComments=%+v err=%v", issues, err)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("wotrack-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun("run", "-d", "--name", name, "-p", "127.0.0.1:0:6379", "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "redis-cli", "ping"); err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("wotrack-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=wotrack_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent"); err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	m := regexp.MustCompile(`:(\d+)`).FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	b, err := exec.Command("docker", args...).CombinedOutput()
	return string(b), err
}
