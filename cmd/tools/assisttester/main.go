package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/joho/godotenv"

	"github.com/bujji-ai/vision-assistant/internal/config"
	speechmodel "github.com/bujji-ai/vision-assistant/internal/model/speech"
	"github.com/bujji-ai/vision-assistant/internal/service/ai"
	"github.com/bujji-ai/vision-assistant/internal/service/assistant"
	"github.com/bujji-ai/vision-assistant/internal/service/speech"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: describe、ask 或 transcribe")
	imagePath := flag.String("image", "", "describe 模式的输入图像路径")
	question := flag.String("question", "", "ask 模式的问题文本")
	scene := flag.String("scene", "", "ask 模式使用的场景描述")
	audioPath := flag.String("audio", "", "transcribe 模式的音频文件路径")
	language := flag.String("lang", "", "语言代码，默认使用配置中的语言")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "describe":
		runDescribe(ctx, cfg, *imagePath)
	case "ask":
		runAsk(ctx, cfg, *scene, *question)
	case "transcribe":
		runTranscribe(ctx, cfg, *audioPath, *language)
	default:
		flag.Usage()
		log.Fatal("请通过 -mode=describe、-mode=ask 或 -mode=transcribe 指定测试模式")
	}
}

func newAIService(ctx context.Context, cfg *config.Config) *ai.Service {
	if !cfg.AI.Enabled() {
		log.Fatal("AI 服务未启用，请先配置 ARK_MODEL 与 Ark 凭证")
	}

	svc, err := ai.NewService(ctx, cfg.AI)
	if err != nil {
		log.Fatalf("AI 服务初始化失败: %v", err)
	}
	return svc
}

func runDescribe(ctx context.Context, cfg *config.Config, imagePath string) {
	if imagePath == "" {
		log.Fatal("describe 模式需要通过 -image 指定图像文件路径")
	}

	image, err := os.ReadFile(imagePath)
	if err != nil {
		log.Fatalf("读取图像文件失败: %v", err)
	}

	kind, err := filetype.Match(image)
	if err != nil || kind == filetype.Unknown || kind.MIME.Type != "image" {
		log.Fatalf("无法识别的图像格式: %s", imagePath)
	}

	svc := newAIService(ctx, cfg)

	log.Printf("开始进行场景描述测试: file=%s mime=%s size=%d", filepath.Base(imagePath), kind.MIME.Value, len(image))

	description, err := svc.Describe(ctx, image, kind.MIME.Value, assistant.SceneInstruction)
	if err != nil {
		log.Fatalf("场景描述调用失败: %v", err)
	}

	fmt.Println(description)
}

func runAsk(ctx context.Context, cfg *config.Config, scene, question string) {
	if strings.TrimSpace(question) == "" {
		log.Fatal("ask 模式需要通过 -question 提供问题文本")
	}
	if strings.TrimSpace(scene) == "" {
		log.Fatal("ask 模式需要通过 -scene 提供场景描述")
	}

	svc := newAIService(ctx, cfg)

	log.Printf("开始进行问答测试: question=%q", question)

	answer, err := svc.Answer(ctx, scene, question)
	if err != nil {
		log.Fatalf("问答调用失败: %v", err)
	}

	fmt.Println(answer)
}

func runTranscribe(ctx context.Context, cfg *config.Config, audioPath, language string) {
	if audioPath == "" {
		log.Fatal("transcribe 模式需要通过 -audio 指定音频文件路径")
	}
	if !cfg.Speech.Enabled {
		log.Fatal("语音服务未启用，请先配置 SPEECH_BASE_URL")
	}

	file, err := os.Open(audioPath)
	if err != nil {
		log.Fatalf("打开音频文件失败: %v", err)
	}
	defer file.Close()

	svc := speech.NewService(cfg.Speech)

	log.Printf("开始进行转写测试: file=%s language=%s", filepath.Base(audioPath), language)

	result, err := svc.Transcribe(ctx, &speechmodel.TranscriptionRequest{
		Audio:    file,
		Filename: filepath.Base(audioPath),
		Language: language,
	})
	if err != nil {
		log.Fatalf("转写调用失败: %v", err)
	}

	log.Printf("转写成功: language=%s duration=%.2fs segments=%d", result.Language, result.Duration, len(result.Segments))
	fmt.Println(result.Text)
}
