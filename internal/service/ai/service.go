package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/bujji-ai/vision-assistant/internal/config"
)

// 提示词保持线上助手的人设与口吻。
const (
	visionSystemPrompt = "You are Bujji, an AI vision assistant. Describe what you see in this webcam image in 1-2 natural sentences. Focus on the most important elements - people, objects, activities, or scenes. Be conversational and engaging."

	qaSystemPrompt = "You are Bujji, an AI vision assistant. You have just analyzed a scene and described it as: '{scene}'. Now answer the user's question about this scene. Be conversational and helpful. If the question can't be answered from the scene description, say so politely."

	qaUserPrompt = "Based on what you described about the scene ('{scene}'), please answer this question: {question}"
)

// Service encapsulates the multimodal model behind scene analysis and Q&A.
type Service struct {
	chatModel model.ChatModel
	qaChain   compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the AI service and compiles the question answering chain.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(qaSystemPrompt),
		schema.UserMessage(qaUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile question answering chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		qaChain:   runnable,
	}, nil
}

// Describe asks the vision model for a short description of a single frame.
func (s *Service) Describe(ctx context.Context, image []byte, mimeType, instruction string) (string, error) {
	messages := buildVisionMessages(image, mimeType, instruction)

	response, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("failed to describe image: %w", err)
	}

	log.Ctx(ctx).Info().
		Int("image_bytes", len(image)).
		Int("length", len(response.Content)).
		Msg("vision model produced scene description")
	return strings.TrimSpace(response.Content), nil
}

// Answer 基于已有的场景描述回答用户问题。
func (s *Service) Answer(ctx context.Context, sceneContext, question string) (string, error) {
	response, err := s.qaChain.Invoke(ctx, map[string]any{
		"scene":    sceneContext,
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run question answering chain: %w", err)
	}

	log.Ctx(ctx).Info().
		Int("length", len(response.Content)).
		Msg("generated answer for scene question")
	return strings.TrimSpace(response.Content), nil
}

// buildVisionMessages assembles the multimodal request for one webcam frame.
func buildVisionMessages(image []byte, mimeType, instruction string) []*schema.Message {
	return []*schema.Message{
		schema.SystemMessage(visionSystemPrompt),
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{
					Type: schema.ChatMessagePartTypeText,
					Text: instruction,
				},
				{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL:    imageDataURL(image, mimeType),
						Detail: schema.ImageURLDetailAuto,
					},
				},
			},
		},
	}
}

// imageDataURL 将原始图像字节编码为模型接受的 data URL。
func imageDataURL(image []byte, mimeType string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))
}
