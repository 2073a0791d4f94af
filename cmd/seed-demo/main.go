package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/examify/examify-backend/internal/config"
	"github.com/examify/examify-backend/internal/database"
	"github.com/examify/examify-backend/internal/logger"
	"github.com/examify/examify-backend/internal/model"
	"github.com/examify/examify-backend/internal/repository"
)

var demoQuestions = []string{
	"Explain the difference between a process and a thread.",
	"What is a race condition and how can it be prevented?",
	"Describe how a hash table handles collisions.",
	"What does database normalization achieve?",
	"Explain the purpose of an index in a relational database.",
	"What is the difference between TCP and UDP?",
	"Describe what happens during a DNS lookup.",
	"What is the CAP theorem?",
	"Explain the difference between authentication and authorization.",
	"What is idempotency and why does it matter for APIs?",
	"Describe the purpose of a message queue in a distributed system.",
	"What is optimistic locking?",
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	users := repository.NewUserRepository(pool)
	exams := repository.NewExamRepository(pool)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Seed Demo Data ===")

	fmt.Print("Teacher name: ")
	teacherName, _ := reader.ReadString('\n')
	teacherName = strings.TrimSpace(teacherName)
	if teacherName == "" {
		teacherName = "Demo Teacher"
	}

	fmt.Print("Teacher email: ")
	teacherEmail, _ := reader.ReadString('\n')
	teacherEmail = strings.TrimSpace(teacherEmail)
	if teacherEmail == "" {
		teacherEmail = "teacher@examify.local"
	}

	fmt.Print("Shared password for all seeded accounts: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading password")
		return
	}
	password := string(bytePassword)
	if len(password) < 6 {
		fmt.Println("Error: password must be at least 6 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	// ─── Teacher ───────────────────────────────────────────────────────
	teacher := &model.User{
		Name:         teacherName,
		Email:        teacherEmail,
		Role:         model.RoleTeacher,
		PasswordHash: string(hash),
	}
	if err := users.Create(ctx, teacher); err != nil {
		log.Fatal().Err(err).Msg("Failed to create teacher")
	}
	fmt.Printf("Teacher '%s' created (%s)\n", teacher.Name, teacher.Email)

	// ─── Students ──────────────────────────────────────────────────────
	for i := 1; i <= 5; i++ {
		student := &model.User{
			Name:         fmt.Sprintf("Demo Student %d", i),
			Email:        fmt.Sprintf("student%d@examify.local", i),
			Role:         model.RoleStudent,
			PasswordHash: string(hash),
		}
		if err := users.Create(ctx, student); err != nil {
			log.Fatal().Err(err).Int("n", i).Msg("Failed to create student")
		}
	}
	fmt.Println("5 students created (student1..5@examify.local)")

	// ─── Demo Exam ─────────────────────────────────────────────────────
	exam := &model.Exam{
		Name:            "Demo Systems Exam",
		AuthorID:        teacher.ID,
		ExamType:        model.ExamTypeExternal,
		DurationMinutes: 30,
		Questions:       demoQuestions,
		Status:          model.ExamStatusStart,
	}
	if err := exams.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create demo exam")
	}

	fmt.Printf("\nSuccess! Demo exam created with ID: %s\n", exam.ID)
}
