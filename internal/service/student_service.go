package service

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"golang.org/x/crypto/bcrypt"
)

var studentHeaders = map[string][]string{
	"nisn":     {"nomor induk", "student id", "id siswa"},
	"name":     {"nama", "nama siswa", "full name", "student name"},
	"password": {"kata sandi", "sandi", "pass"},
}

// StudentService handles student business logic.
type StudentService struct {
	studentRepo *repository.StudentRepository
	bcryptCost  int
}

// NewStudentService creates a new StudentService.
func NewStudentService(studentRepo *repository.StudentRepository, bcryptCost int) *StudentService {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &StudentService{studentRepo: studentRepo, bcryptCost: bcryptCost}
}

// GetByNISN retrieves a student by their NISN.
func (s *StudentService) GetByNISN(ctx context.Context, nisn string) (*model.Student, error) {
	return s.studentRepo.GetByNISN(ctx, nisn)
}

// GetByID retrieves a student by ID.
func (s *StudentService) GetByID(ctx context.Context, id int) (*model.Student, error) {
	return s.studentRepo.GetByID(ctx, id)
}

// ListStudents retrieves students with pagination and an optional search term.
func (s *StudentService) ListStudents(ctx context.Context, search string, page, perPage int) ([]model.Student, *response.Pagination, error) {
	page, perPage = clampPage(page, perPage)

	students, total, err := s.studentRepo.ListPaginated(ctx, search, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	return students, response.NewPagination(page, perPage, total), nil
}

// Create inserts a new student with a hashed password.
func (s *StudentService) Create(ctx context.Context, req *model.CreateStudentRequest) (*model.Student, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, err
	}
	student := &model.Student{NISN: req.NISN, Name: req.Name, PasswordHash: string(hashed)}
	if err := s.studentRepo.Create(ctx, student); err != nil {
		return nil, err
	}
	return student, nil
}

// ImportRoster creates students from a workbook. Existing NISNs are skipped
// and invalid rows are reported without aborting the import.
func (s *StudentService) ImportRoster(ctx context.Context, r io.Reader) (*model.StudentImportReport, error) {
	reqs, rowErrors, err := ParseStudentSheet(r)
	if err != nil {
		return nil, err
	}

	report := &model.StudentImportReport{Errors: rowErrors}
	if len(reqs) == 0 {
		return report, nil
	}

	students := make([]model.Student, len(reqs))
	for i, req := range reqs {
		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", req.NISN, err)
		}
		students[i] = model.Student{NISN: req.NISN, Name: req.Name, PasswordHash: string(hashed)}
	}

	created, err := s.studentRepo.CreateMany(ctx, students)
	if err != nil {
		return nil, fmt.Errorf("insert roster: %w", err)
	}
	report.Created = len(created)
	report.Skipped = len(students) - len(created)
	return report, nil
}

// ParseStudentSheet reads a roster workbook. A missing password column means
// each student's NISN is used as the initial password.
func ParseStudentSheet(r io.Reader) ([]model.CreateStudentRequest, map[string]string, error) {
	t, err := readSheet(r, studentHeaders)
	if err != nil {
		return nil, nil, err
	}
	if !t.has("nisn") || !t.has("name") {
		return nil, nil, fmt.Errorf("%w: nisn and name columns are required", ErrInvalidSheet)
	}

	v := validator.New()
	seen := make(map[string]bool)
	var reqs []model.CreateStudentRequest
	rowErrors := make(map[string]string)

	for i, row := range t.rows {
		if blankRow(row) {
			continue
		}
		rowKey := "row " + strconv.Itoa(i+2)

		req := model.CreateStudentRequest{
			NISN:     t.cell(row, "nisn"),
			Name:     t.cell(row, "name"),
			Password: t.cell(row, "password"),
		}
		if req.Password == "" {
			req.Password = req.NISN
		}
		if err := v.Struct(req); err != nil {
			for field, msg := range validator.TranslateErrors(err) {
				rowErrors[rowKey] = field + ": " + msg
				break
			}
			continue
		}
		if seen[req.NISN] {
			rowErrors[rowKey] = "duplicate nisn " + req.NISN
			continue
		}
		seen[req.NISN] = true
		reqs = append(reqs, req)
	}
	return reqs, rowErrors, nil
}
